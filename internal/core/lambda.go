package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// LambdaHandler adapts h to API Gateway HTTP API (payload v2) events so the
// same router serves both deployment modes.
//
// The adapter splits comma separated header values into repeated headers;
// handlers that need the raw value join r.Header.Values with ",".
func LambdaHandler(h http.Handler) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter := httpadapter.NewV2(h)

	return func(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		ev.Headers = withGatewayRequestID(ev)

		resp, err := adapter.ProxyWithContext(ctx, ev)
		if err != nil {
			// The router always writes a status, so a failure here is an
			// event that could not be turned into a request.
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest}, nil
		}
		return resp, nil
	}
}

// withGatewayRequestID copies the event headers and adds the API Gateway
// request id as X-Request-Id when the caller did not send one.
func withGatewayRequestID(ev events.APIGatewayV2HTTPRequest) map[string]string {
	headers := make(map[string]string, len(ev.Headers)+1)
	hasID := false
	for k, v := range ev.Headers {
		headers[k] = v
		if strings.EqualFold(k, "X-Request-Id") {
			hasID = true
		}
	}
	if !hasID && ev.RequestContext.RequestID != "" {
		headers["X-Request-Id"] = ev.RequestContext.RequestID
	}
	return headers
}
