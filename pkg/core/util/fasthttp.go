package util

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

type Header struct {
	Key   string
	Value string
}

// HttpResponse 一次调用的结果，Body 已从 fasthttp 缓冲区复制出来
type HttpResponse struct {
	StatusCode int
	Body       []byte
}

// Result 以 gjson 解析响应体
func (r *HttpResponse) Result() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// IsSuccess 2xx 视为成功
func (r *HttpResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HttpDo 发送请求，timeout<=0 时不限制
func HttpDo(method, uri, contentType string, body []byte, timeout time.Duration, headers ...Header) (*HttpResponse, error) {
	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	request.Header.SetMethod(method)
	request.SetRequestURI(uri)
	if contentType != "" {
		request.Header.SetContentType(contentType)
	}
	if len(body) > 0 {
		request.SetBody(body)
	}
	for _, header := range headers {
		request.Header.Set(header.Key, header.Value)
	}

	var err error
	if timeout > 0 {
		err = fasthttp.DoTimeout(request, response, timeout)
	} else {
		err = fasthttp.Do(request, response)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, uri, err)
	}

	return &HttpResponse{
		StatusCode: response.StatusCode(),
		Body:       append([]byte(nil), response.Body()...),
	}, nil
}
