package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running dexter server over its HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// http://127.0.0.1:18650.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		// Sessions block until dexter speaks; leave room for the full
		// session deadline.
		http: &http.Client{Timeout: 11 * time.Minute},
	}
}

type apiError struct {
	Error struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error.Message, apiErr.Error.Class)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// ChatResult is the answer of one collaboration session.
type ChatResult struct {
	SessionID            string             `json:"session_id"`
	Reply                string             `json:"reply"`
	CollaborationSession string             `json:"collaboration_session"`
	Winner               string             `json:"winner"`
	Status               string             `json:"status"`
	Tally                map[string]float64 `json:"tally"`
	Executed             *ExecutedSkill     `json:"executed"`
	DurationMs           float64            `json:"duration_ms"`
}

// ExecutedSkill reports the automatic skill harvest on a winning answer.
type ExecutedSkill struct {
	OK        bool   `json:"ok"`
	SkillName string `json:"skill_name"`
	Promoted  bool   `json:"promoted"`
}

// Chat runs one full collaboration session and blocks for the answer.
func (c *Client) Chat(ctx context.Context, message, campaign string) (*ChatResult, error) {
	var result ChatResult
	err := c.do(ctx, http.MethodPost, "/chat", map[string]string{
		"message":     message,
		"campaign_id": campaign,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Event is one record from the live feed.
type Event struct {
	Ts      int64             `json:"ts"`
	Slot    string            `json:"slot"`
	Session string            `json:"session"`
	Phase   string            `json:"phase"`
	Event   string            `json:"event"`
	Text    string            `json:"text"`
	Meta    map[string]string `json:"meta"`
}

// Events follows the SSE feed, invoking fn per event until the context
// ends or the stream closes.
func (c *Client) Events(ctx context.Context, slot, session string, fn func(Event)) error {
	q := url.Values{}
	if slot != "" {
		q.Set("slot", slot)
	}
	if session != "" {
		q.Set("session", session)
	}
	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout on the stream itself.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// Skill mirrors the server's skill resource.
type Skill struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	LastTestOK bool   `json:"last_test_ok"`
	Source     string `json:"source"`
}

func (c *Client) Skills(ctx context.Context, activeOnly bool) ([]Skill, error) {
	path := "/skills"
	if activeOnly {
		path += "?active=true"
	}
	var resp struct {
		Skills []Skill `json:"skills"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Skills, nil
}

func (c *Client) Skill(ctx context.Context, id string) (*Skill, error) {
	var sk Skill
	if err := c.do(ctx, http.MethodGet, "/skills/"+url.PathEscape(id), nil, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// SkillTestResult is the sandbox outcome of one validation run.
type SkillTestResult struct {
	OK         bool   `json:"ok"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Killed     bool   `json:"killed"`
}

func (c *Client) TestSkill(ctx context.Context, id, message string) (*SkillTestResult, error) {
	var result SkillTestResult
	err := c.do(ctx, http.MethodPost, "/skills/"+url.PathEscape(id)+"/test",
		map[string]string{"message": message}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) PromoteSkill(ctx context.Context, id string) (*Skill, error) {
	var sk Skill
	err := c.do(ctx, http.MethodPost, "/skills/"+url.PathEscape(id)+"/promote", nil, &sk)
	if err != nil {
		return nil, err
	}
	return &sk, nil
}

func (c *Client) ExecuteSkill(ctx context.Context, id, message string) (string, error) {
	var resp struct {
		Output string `json:"output"`
	}
	err := c.do(ctx, http.MethodPost, "/skills/"+url.PathEscape(id)+"/execute",
		map[string]string{"message": message}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

// Campaign mirrors the server's campaign resource.
type Campaign struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Objective string   `json:"objective"`
	Status    string   `json:"status"`
	Sessions  []string `json:"sessions"`
}

func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	var resp struct {
		Campaigns []Campaign `json:"campaigns"`
	}
	if err := c.do(ctx, http.MethodGet, "/campaigns", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Campaigns, nil
}

func (c *Client) CreateCampaign(ctx context.Context, name, objective string) (*Campaign, error) {
	var cp Campaign
	err := c.do(ctx, http.MethodPost, "/campaigns",
		map[string]string{"name": name, "objective": objective}, &cp)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SessionStatus is one row of the live session listing.
type SessionStatus struct {
	ID       string             `json:"id"`
	Campaign string             `json:"campaign"`
	Status   string             `json:"status"`
	Phase    string             `json:"phase"`
	Winner   string             `json:"winner"`
	Tally    map[string]float64 `json:"tally"`
}

func (c *Client) Status(ctx context.Context, activeOnly bool) ([]SessionStatus, error) {
	path := "/collaboration/status"
	if activeOnly {
		path += "?active=true"
	}
	var resp struct {
		Sessions []SessionStatus `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Health checks the server and returns its version.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}
