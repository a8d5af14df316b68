package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

type instrumentResty struct {
	tel       API
	idcounter *uint64
	redact    bool
}

// InstrumentResty reports every request, response and transport error of the
// client through tel.
func InstrumentResty(client *resty.Client, tel API) {
	instrument(client, tel, false)
}

// InstrumentRestySecret is InstrumentResty for clients whose request urls carry
// credentials (webhook tokens), the last path segment is never logged.
func InstrumentRestySecret(client *resty.Client, tel API) {
	instrument(client, tel, true)
}

func instrument(client *resty.Client, tel API, redact bool) {
	var idcounter uint64
	i := instrumentResty{tel: tel, idcounter: &idcounter, redact: redact}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id uint64
	// only used to compute a duration, so it does not need to go through chrono.
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()

	id := atomic.AddUint64(i.idcounter, 1)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		startTime: time.Now(),
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, i.url(req.URL))

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	reqCtx, ok := res.Request.Context().Value(reqCtxKey).(reqCtx)
	if !ok {
		return nil
	}

	i.tel.ReportDebug(
		report_resty_response,
		reqCtx.id,
		time.Since(reqCtx.startTime).String(),
		res.Status(),
	)
	if res.IsError() {
		i.tel.ReportDebug(report_resty_response, reqCtx.id, formatResponse(res, i.redact))
	}
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	var duration time.Duration
	reqCtx, ok := req.Context().Value(reqCtxKey).(reqCtx)
	if ok {
		duration = time.Since(reqCtx.startTime)
	}

	if i.redact {
		err = redactError(err, req.URL)
	}
	i.tel.ReportWarning(
		report_resty_response,
		err,
		req.Method,
		i.url(req.URL),
		duration,
	)
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// 1: request method
// 2: request url
// 3: response status
// 4: response headers in ("Key: Value" format)
// 5: response body
const responseInfoTemplate = `---- REQUEST ----

%s %s

---- RESPONSE ----

%s

%s

%s`

func (i instrumentResty) url(u string) string {
	if i.redact {
		return redactURL(u)
	}
	return u
}

func formatResponse(res *resty.Response, redact bool) string {
	u := res.Request.URL
	if redact {
		u = redactURL(u)
	}
	return fmt.Sprintf(
		responseInfoTemplate,
		res.Request.Method, u,
		strconv.Itoa(res.StatusCode()),
		formatHeaders(res.Header()),
		res.String(),
	)
}

func redactURL(u string) string {
	idx := strings.LastIndex(u, "/")
	if idx < 0 || idx == len(u)-1 {
		return u
	}
	return u[:idx+1] + "<redacted>"
}

// redactError removes the last path segment of u from the message of err.
func redactError(err error, u string) error {
	idx := strings.LastIndex(u, "/")
	if idx < 0 || idx == len(u)-1 {
		return err
	}
	secret := u[idx+1:]
	if !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "<redacted>"))
}
