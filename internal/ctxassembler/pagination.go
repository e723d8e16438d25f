package ctxassembler

// PageSizeTokens is the per-page token budget a panel's page count is
// computed from, per §4.4/§9's pagination design note.
const PageSizeTokens = 4000

// ComputeTotalPages returns how many PageSizeTokens-sized pages a panel
// of the given full token count spans (minimum 1).
func ComputeTotalPages(fullTokenCount int) int {
	if fullTokenCount <= 0 {
		return 1
	}
	pages := (fullTokenCount + PageSizeTokens - 1) / PageSizeTokens
	if pages < 1 {
		return 1
	}
	return pages
}

// CurrentPageSlice returns the byte range of content that corresponds
// to page (0-indexed), clamped to content's bounds. The assembler does
// not call it: panel content is sent, counted and hashed in full (see
// paginate).
func CurrentPageSlice(content string, page int) string {
	if page < 0 {
		page = 0
	}
	charsPerPage := PageSizeTokens * 4
	start := page * charsPerPage
	if start >= len(content) {
		return ""
	}
	end := start + charsPerPage
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
