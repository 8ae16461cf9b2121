package pagination

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quartzdata/tap-prefect/pkg/client"
)

// Paginator tracks pagination progress for a single request sequence.
// Implementations decide whether more pages remain and what token
// identifies the next page. Advance consumes the most recent response
// together with the number of records it yielded.
type Paginator interface {
	// Finished reports whether the sequence is exhausted.
	Finished() bool

	// Current returns the token to use for the next request.
	Current() PageToken

	// Advance updates pagination state from the latest response.
	Advance(resp *client.Response, records int) error
}

// OffsetPaginator pages through an offset/limit sequence. It terminates
// implicitly when a page returns fewer records than the page size, so
// record sources never spell out their own termination rule.
type OffsetPaginator struct {
	pageSize int
	offset   int
	started  bool
	finished bool
}

// NewOffsetPaginator creates an offset paginator for the given page size.
func NewOffsetPaginator(pageSize int) *OffsetPaginator {
	return &OffsetPaginator{pageSize: pageSize}
}

// Finished implements Paginator.
func (p *OffsetPaginator) Finished() bool {
	return p.finished
}

// Current implements Paginator. The first page carries no token.
func (p *OffsetPaginator) Current() PageToken {
	if !p.started {
		return PageToken{}
	}
	return OffsetToken(p.offset)
}

// Advance implements Paginator.
func (p *OffsetPaginator) Advance(resp *client.Response, records int) error {
	p.started = true
	if records < p.pageSize || records == 0 {
		p.finished = true
		return nil
	}
	p.offset += records
	return nil
}

// LinkPaginator follows resumption links embedded in response bodies.
// The next page is the URL found at a fixed field; a null or absent
// field ends pagination and is never an error.
type LinkPaginator struct {
	field    string
	next     string
	finished bool
	logger   zerolog.Logger
}

// DefaultLinkField is the response field carrying the resumption link.
const DefaultLinkField = "next_page"

// NewLinkPaginator creates a link paginator reading the given body field.
// An empty field name defaults to "next_page".
func NewLinkPaginator(field string) *LinkPaginator {
	if field == "" {
		field = DefaultLinkField
	}
	return &LinkPaginator{
		field:  field,
		logger: log.With().Str("component", "link-paginator").Logger(),
	}
}

// Finished implements Paginator.
func (p *LinkPaginator) Finished() bool {
	return p.finished
}

// Current implements Paginator.
func (p *LinkPaginator) Current() PageToken {
	if p.next == "" {
		return PageToken{}
	}
	return LinkToken(p.next)
}

// Advance implements Paginator.
func (p *LinkPaginator) Advance(resp *client.Response, records int) error {
	next, err := p.NextURL(resp)
	if err != nil {
		return err
	}

	if next == "" {
		p.next = ""
		p.finished = true
		return nil
	}

	p.next = next
	return nil
}

// NextURL extracts the resumption link from a response body.
// Returns "" when the field is absent or null.
func (p *LinkPaginator) NextURL(resp *client.Response) (string, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("parse response for %s link: %w", p.field, err)
	}

	raw, ok := body[p.field]
	if !ok {
		return "", nil
	}

	var next *string
	if err := json.Unmarshal(raw, &next); err != nil {
		return "", fmt.Errorf("parse %s link: %w", p.field, err)
	}
	if next == nil {
		return "", nil
	}

	p.logger.Info().Str("next_page", *next).Msg("Next page link")
	return *next, nil
}
