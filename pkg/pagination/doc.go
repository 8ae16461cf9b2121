// Package pagination provides the page tokens and paginators used by the
// stream driver to walk Prefect Cloud's paginated filter endpoints.
//
// Two strategies exist:
//
//   - OffsetPaginator: offset/limit sequences (flow runs, task runs). A page
//     returning fewer records than the page size ends the sequence.
//   - LinkPaginator: resumption links (events). Each response carries a
//     next_page URL that fully encodes the following request; a null or
//     absent link ends the sequence.
//
// Both guarantee finite termination: either the paginator reports no
// further token, or a short page stops the offset sequence.
package pagination
