// Package gmail moves message labels and reads PDF attachments through the
// Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const defaultRate = 5

// Attachment is a PDF attached to a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Client calls the Gmail API for one mailbox. Calls are throttled.
type Client struct {
	svc     *gmailapi.Service
	user    string
	limiter *rate.Limiter
}

// Options configures New.
type Options struct {
	CredentialsFile string
	// User is the mailbox, "me" for the authenticated account.
	User string
	// RateLimit is requests per second; zero uses the default.
	RateLimit float64
	// ClientOptions are passed through to the API client.
	ClientOptions []option.ClientOption
}

// New creates a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	clientOpts := opts.ClientOptions
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	svc, err := gmailapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create service")
	}

	user := opts.User
	if user == "" {
		user = "me"
	}
	rps := opts.RateLimit
	if rps <= 0 {
		rps = defaultRate
	}
	return &Client{
		svc:     svc,
		user:    user,
		limiter: rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	return eris.Wrap(c.limiter.Wait(ctx), "gmail: rate limit")
}

// RemoveLabel removes labelID from a message. Removing an absent label
// succeeds.
func (c *Client) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	return c.modify(ctx, messageID, &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{labelID}})
}

// ApplyLabel adds labelID to a message. Applying a present label succeeds.
func (c *Client) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return c.modify(ctx, messageID, &gmailapi.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

func (c *Client) modify(ctx context.Context, messageID string, req *gmailapi.ModifyMessageRequest) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.svc.Users.Messages.Modify(c.user, messageID, req).Context(ctx).Do()
	return eris.Wrapf(err, "gmail: modify message %s", messageID)
}

// ListLabeled returns up to limit message IDs carrying labelID, newest
// first. A non-positive limit lists them all.
func (c *Client) ListLabeled(ctx context.Context, labelID string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		call := c.svc.Users.Messages.List(c.user).LabelIds(labelID).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, eris.Wrapf(err, "gmail: list messages with label %s", labelID)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if limit > 0 && len(ids) == limit {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// PDFAttachments downloads every PDF attached to a message.
func (c *Client) PDFAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := c.svc.Users.Messages.Get(c.user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrapf(err, "gmail: get message %s", messageID)
	}

	var out []Attachment
	for _, part := range pdfParts(msg.Payload) {
		data := ""
		if part.Body != nil {
			data = part.Body.Data
		}
		if data == "" && part.Body != nil && part.Body.AttachmentId != "" {
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
			body, err := c.svc.Users.Messages.Attachments.Get(c.user, messageID, part.Body.AttachmentId).Context(ctx).Do()
			if err != nil {
				return nil, eris.Wrapf(err, "gmail: get attachment %s", part.Filename)
			}
			data = body.Data
		}
		content, err := decodeBody(data)
		if err != nil {
			return nil, eris.Wrapf(err, "gmail: decode attachment %s", part.Filename)
		}
		out = append(out, Attachment{Filename: part.Filename, Content: content})
	}
	return out, nil
}

// pdfParts walks the MIME tree and returns the PDF attachment parts.
func pdfParts(part *gmailapi.MessagePart) []*gmailapi.MessagePart {
	if part == nil {
		return nil
	}
	var out []*gmailapi.MessagePart
	if part.Filename != "" && isPDF(part) {
		out = append(out, part)
	}
	for _, child := range part.Parts {
		out = append(out, pdfParts(child)...)
	}
	return out
}

func isPDF(part *gmailapi.MessagePart) bool {
	return strings.EqualFold(part.MimeType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(part.Filename), ".pdf")
}

// decodeBody decodes Gmail's URL-safe base64, padded or not.
func decodeBody(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
