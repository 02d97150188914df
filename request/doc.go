// Package request is the low-level HTTP orchestrator for geospatial REST
// endpoints: it encodes parameters, picks the HTTP verb and body shape,
// attaches credentials, and normalizes the platform's two failure
// conventions into *APIError values.
//
// The platform reports most failures inside an HTTP 200 response as an
// {"error": {...}} JSON envelope; request.Do treats that envelope and a
// non-2xx status as equally authoritative. When the error is a token
// problem (codes 498 and 499) and the attached TokenProvider can refresh,
// Do refreshes once and retries the request exactly once.
//
// Most callers use Do directly:
//
//	resp, err := request.Do(ctx, layerURL+"/query", &request.Options{
//		Params: request.Params{"where": "1=1", "outFields": "*"},
//		Auth:   session,
//	})
//
// Higher-level packages (auth, federation, jobs) are built on this one.
package request
