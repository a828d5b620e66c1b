package moderation

import (
	"bufio"
	"bytes"
	"chat-hub/errors"
	"embed"
	"io/fs"
	"path"
	"strings"

	"github.com/samber/lo"
)

//go:embed censored/*.txt
var censoredFolder embed.FS

// DefaultDir is where the embedded word lists live.
const DefaultDir = "censored"

// CensoredData carries the result of the loading process including metadata for logging.
type CensoredData struct {
	Words     []string
	Languages []string
}

// CensoredLoader reads blacklisted words, one per line, from every .txt file of a directory.
type CensoredLoader struct {
	fs fs.FS
}

// NewCensoredLoader reads from fsys, or from the embedded lists when fsys is nil.
func NewCensoredLoader(fsys fs.FS) *CensoredLoader {
	if fsys == nil {
		fsys = censoredFolder
	}
	return &CensoredLoader{fs: fsys}
}

// LoadAll parses every dictionary of dir into a unique list of words.
// The file name is the language ("fr.txt" -> "fr").
func (l *CensoredLoader) LoadAll(dir string) (*CensoredData, error) {
	entries, err := fs.ReadDir(l.fs, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	var words []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(l.fs, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		// ⚠️Don't use strings.Split, lines may end with \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				words = append(words, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	words = lo.Uniq(words)
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}

	return &CensoredData{
		Words:     words,
		Languages: languages,
	}, nil
}
