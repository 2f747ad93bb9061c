// Package pagination walks Lightspeed's cursor-linked result pages.
//
// Every page carries an @attributes block whose next and previous fields
// hold fully qualified URLs. An Iterator fetches the first page, then keeps
// following next until a page has none. It is an explicit state machine:
//
//	StateFetchingFirst -> StateFetchingNext -> StateDone
//
// with no backward transitions. Previous-page navigation is a separate
// operation (see PreviousPage) and never moves an Iterator.
//
// Example usage:
//
//	it := pagination.New(fetcher, firstURL, "Sale", pagination.Config{})
//	for payload, err := range it.All(ctx) {
//		if err != nil {
//			return err
//		}
//		// payload is the "Sale" field of one page
//	}
//
// Collect drains an Iterator into one flat, ordered list.
package pagination
