package e2e

import (
	"chat-hub/auth"
	"chat-hub/domain/event"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type Frame struct {
	Event event.Name      `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type BaseWsSuite struct {
	suite.Suite
	Config   Config
	verifier *auth.JWTVerifier
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.HubAddr == "" {
		s.T().Skip("HUB_ADDR is not set, no hub to talk to")
	}
	s.verifier = auth.NewJWTVerifier(s.Config.JWTSecret, s.Config.JWTIssuer)
}

// Client is one user connected to the hub, logging every frame it exchanges.
type Client struct {
	s    *BaseWsSuite
	name string
	conn *websocket.Conn
}

// Connect opens an authenticated connection for userID.
func (s *BaseWsSuite) Connect(name, userID string, roles ...string) *Client {
	s.header(fmt.Sprintf("  ====== %s ======", name))

	token, err := s.verifier.GenerateToken(userID, name, roles, time.Minute)
	s.Require().NoError(err)
	conn, _, err := websocket.DefaultDialer.Dial(s.Config.HubAddr, http.Header{
		"Authorization": {"Bearer " + token},
	})
	s.Require().NoError(err, "Failed to connect to hub at "+s.Config.HubAddr)
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Client{s: s, name: name, conn: conn}
}

func (s *BaseWsSuite) header(text string) {
	if s.Config.Colours {
		text = color.New(color.BgBlack, color.FgGreen).Render(text)
	}
	s.T().Log(text)
}

func (c *Client) Send(name string, data any) {
	raw, err := json.Marshal(map[string]any{"event": name, "data": data})
	c.s.Require().NoError(err)
	c.debug("->", raw)
	c.s.Require().NoError(c.conn.WriteMessage(websocket.TextMessage, raw))
}

// Await reads frames until one named name arrives and decodes its data into out.
func (c *Client) Await(name event.Name, out any) {
	c.s.Require().NoError(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		_, raw, err := c.conn.ReadMessage()
		c.s.Require().NoError(err, "%s waiting for %s", c.name, name)
		c.debug("<-", raw)

		var frame Frame
		c.s.Require().NoError(json.Unmarshal(raw, &frame))
		if frame.Event != name {
			continue
		}
		if out != nil {
			c.s.Require().NoError(json.Unmarshal(frame.Data, out))
		}
		return
	}
}

func (c *Client) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func (c *Client) debug(direction string, raw []byte) {
	if !c.s.Config.DebugJSON {
		return
	}
	prefix := fmt.Sprintf("%s %s", c.name, direction)
	if c.s.Config.Colours {
		prefix = color.Cyan.Render(prefix)
	}
	c.s.T().Logf("%s %s", prefix, raw)
}
