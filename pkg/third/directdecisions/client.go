package directdecisions

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://api.directdecisions.com"

// Client Direct Decisions v1 接口的精简封装
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		timeout: 10 * time.Second,
		http: &fasthttp.Client{
			Name:                "ddbridge",
			MaxIdleConnDuration: time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateVoting 创建投票，返回远端 ID
func (c *Client) CreateVoting(ctx context.Context, choices []string) (string, error) {
	var v Voting
	if err := c.do(ctx, fasthttp.MethodPost, "/v1/votings", Voting{Choices: choices}, &v); err != nil {
		return "", err
	}
	if v.ID == "" {
		return "", &Error{Kind: KindTransient, Message: "empty voting id in response"}
	}
	return v.ID, nil
}

// SubmitBallot 提交选票，ballot 为 选项 -> 名次
func (c *Client) SubmitBallot(ctx context.Context, votingID, voterID string, ballot map[string]int) error {
	var resp ballotResponse
	err := c.do(ctx, fasthttp.MethodPost, votingPath(votingID, "ballots", url.PathEscape(voterID)), ballotRequest{Ballot: ballot}, &resp)
	if err != nil {
		return err
	}
	if resp.Revoted {
		log.Debug().Str("voting_id", votingID).Str("voter", voterID).Msg("远端记录为重新投票")
	}
	return nil
}

func (c *Client) CloseVoting(ctx context.Context, votingID string) error {
	return c.do(ctx, fasthttp.MethodPost, votingPath(votingID, "close"), nil, nil)
}

// FetchResults 获取结果及两两对决
func (c *Client) FetchResults(ctx context.Context, votingID string) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, fasthttp.MethodGet, votingPath(votingID, "results", "duels"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteVoting(ctx context.Context, votingID string) error {
	return c.do(ctx, fasthttp.MethodDelete, votingPath(votingID), nil, nil)
}

func votingPath(votingID string, parts ...string) string {
	p := "/v1/votings/" + url.PathEscape(votingID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return transient(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Direct Decisions 请求失败")
		return transient(err)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusMultipleChoices {
		var body errorResponse
		if len(resp.Body()) > 0 {
			_ = json.Unmarshal(resp.Body(), &body)
		}
		e := fromStatus(status, body)
		log.Warn().Int("status", status).Str("method", method).Str("path", path).Str("message", e.Message).Msg("Direct Decisions 返回错误")
		return e
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return transient(errors.Wrap(err, "decode response"))
		}
	}
	return nil
}
