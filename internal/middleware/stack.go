package middleware

import "net/http"

// Stack composes middlewares into a single middleware. The first middleware
// in the list is the outermost:
//
//	stack := Stack(loggingMw, securityMw)
//	mux.Handle("GET /api/bookings", stack(bookingHandler))
//
// This is equivalent to:
//
//	mux.Handle("GET /api/bookings", loggingMw(securityMw(bookingHandler)))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
