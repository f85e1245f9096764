// Package interceptors wraps event handlers with cross-cutting behavior.
//
// An InterceptorChain runs its interceptors in the order they were added,
// each deciding whether and how to call the next one:
//
//	handler := interceptors.NewInterceptorChain(logger).
//		Add(interceptors.NewLoggingInterceptor(logger)).
//		Add(interceptors.NewTimeoutInterceptor(10 * time.Second)).
//		Then(userHandler.Handle)
//
// The resulting contracts.Handler is passed to Service.Run like any other.
package interceptors
