package pagination

import "strconv"

// tokenKind tags the PageToken variant.
type tokenKind int

const (
	tokenNone tokenKind = iota
	tokenOffset
	tokenLink
)

// PageToken is an opaque resumption marker for paginated requests.
// The zero value means "first page / no token". A token is either an
// offset into an offset-paginated sequence or a full resumption link.
type PageToken struct {
	kind   tokenKind
	offset int
	link   string
}

// OffsetToken returns a token resuming at the given offset.
func OffsetToken(offset int) PageToken {
	return PageToken{kind: tokenOffset, offset: offset}
}

// LinkToken returns a token carrying a full next-page URL.
func LinkToken(url string) PageToken {
	return PageToken{kind: tokenLink, link: url}
}

// IsNone reports whether the token is absent (first page).
func (t PageToken) IsNone() bool {
	return t.kind == tokenNone
}

// Offset returns the offset value, if this is an offset token.
func (t PageToken) Offset() (int, bool) {
	return t.offset, t.kind == tokenOffset
}

// Link returns the resumption URL, if this is a link token.
func (t PageToken) Link() (string, bool) {
	return t.link, t.kind == tokenLink
}

// String renders the token for logging.
func (t PageToken) String() string {
	switch t.kind {
	case tokenOffset:
		return "offset:" + strconv.Itoa(t.offset)
	case tokenLink:
		return t.link
	default:
		return ""
	}
}
