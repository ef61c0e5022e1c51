package remote

import "fmt"

const (
	ResponseCodeSuccess = 200
	ResponseCodeFail    = 500

	// ErrorCodeConfigNotFound is returned by config queries for unknown items.
	ErrorCodeConfigNotFound = 300
	// ErrorCodeConfigQueryConflict is returned while the item is being written.
	ErrorCodeConfigQueryConflict = 400
)

// Response holds the fields shared by all responses.
type Response struct {
	ResultCode int    `json:"resultCode"`
	ErrCode    int    `json:"errorCode"`
	Msg        string `json:"message,omitempty"`
	ReqID      string `json:"requestId,omitempty"`
	Success    bool   `json:"success"`
}

func (r *Response) response() *Response { return r }

func (r *Response) IsSuccess() bool {
	return r.ResultCode == ResponseCodeSuccess
}

func (r *Response) ErrorCode() int {
	return r.ErrCode
}

func (r *Response) Message() string {
	return r.Msg
}

func (r *Response) RequestID() string {
	return r.ReqID
}

func (r *Response) SetRequestID(id string) {
	r.ReqID = id
}

// Err returns nil for successful responses and a descriptive error otherwise.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}

	return fmt.Errorf("result code %d, error code %d: %s", r.ResultCode, r.ErrCode, r.Msg)
}

// ServerResponse is implemented by every response type.
type ServerResponse interface {
	response() *Response
	IsSuccess() bool
	ErrorCode() int
	Message() string
	RequestID() string
	SetRequestID(id string)
	Err() error
}

// NewResponse returns a successful base response.
func NewResponse() Response {
	return Response{ResultCode: ResponseCodeSuccess, Success: true}
}

// NewErrorResponse builds the response the server sends when it cannot
// process a request.
func NewErrorResponse(errorCode int, msg string) *ErrorResponse {
	return &ErrorResponse{
		Response: Response{
			ResultCode: ResponseCodeFail,
			ErrCode:    errorCode,
			Msg:        msg,
		},
	}
}

type ErrorResponse struct {
	Response
}

type ServerCheckResponse struct {
	Response
	ConnectionID string `json:"connectionId"`
}

type HealthCheckResponse struct {
	Response
}

type ConnectResetResponse struct {
	Response
}

type ClientDetectionResponse struct {
	Response
}

type ConfigChangeNotifyResponse struct {
	Response
}

// ConfigContext identifies a config item reported as changed.
type ConfigContext struct {
	Group  string `json:"group"`
	DataID string `json:"dataId"`
	Tenant string `json:"tenant"`
}

type ConfigChangeBatchListenResponse struct {
	Response
	ChangedConfigs []ConfigContext `json:"changedConfigs"`
}

type ConfigQueryResponse struct {
	Response
	Content          string `json:"content"`
	EncryptedDataKey string `json:"encryptedDataKey"`
	ContentType      string `json:"contentType"`
	MD5              string `json:"md5"`
	LastModified     int64  `json:"lastModified"`
	Beta             bool   `json:"beta"`
	Tag              string `json:"tag,omitempty"`
}

// IsNotFound reports whether the queried item does not exist on the server.
func (r *ConfigQueryResponse) IsNotFound() bool {
	return r.ErrCode == ErrorCodeConfigNotFound
}
