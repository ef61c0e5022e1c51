// Package remote defines the messages exchanged with the server. Every request
// composes a Request value and every response composes a Response value; the
// shared fields are reached through accessor methods.
package remote

const (
	ModuleInternal = "internal"
	ModuleConfig   = "config"
)

// Request holds the fields shared by all requests.
type Request struct {
	RequestHeaders map[string]string `json:"headers"`
	ReqID          string            `json:"requestId,omitempty"`
}

func (r *Request) request() *Request { return r }

func (r *Request) Headers() map[string]string {
	return r.RequestHeaders
}

func (r *Request) SetHeaders(headers map[string]string) {
	r.RequestHeaders = headers
}

func (r *Request) PutHeader(key, value string) {
	if r.RequestHeaders == nil {
		r.RequestHeaders = make(map[string]string)
	}

	r.RequestHeaders[key] = value
}

func (r *Request) Header(key string) string {
	return r.RequestHeaders[key]
}

func (r *Request) RequestID() string {
	return r.ReqID
}

func (r *Request) SetRequestID(id string) {
	r.ReqID = id
}

// ClientRequest is implemented by every request type.
type ClientRequest interface {
	request() *Request
	Headers() map[string]string
	SetHeaders(headers map[string]string)
	PutHeader(key, value string)
	RequestID() string
	SetRequestID(id string)
	Module() string
}

// ServerCheckRequest is the first request on a new channel. The server answers
// with the id it assigned to the connection.
type ServerCheckRequest struct {
	Request
}

func (*ServerCheckRequest) Module() string { return ModuleInternal }

// ConnectionSetupRequest is sent over the push stream right after the server
// check and binds the stream to the connection.
type ConnectionSetupRequest struct {
	Request
	ClientVersion string            `json:"clientVersion"`
	Abilities     ClientAbilities   `json:"abilities"`
	Tenant        string            `json:"tenant"`
	Labels        map[string]string `json:"labels"`
}

func (*ConnectionSetupRequest) Module() string { return ModuleInternal }

// HealthCheckRequest is a keep-alive probe. Both sides may send it.
type HealthCheckRequest struct {
	Request
}

func (*HealthCheckRequest) Module() string { return ModuleInternal }

// ConnectResetRequest is pushed by the server to ask the client to reconnect,
// optionally to a specific server.
type ConnectResetRequest struct {
	Request
	ServerIP   string `json:"serverIp"`
	ServerPort string `json:"serverPort"`
}

func (*ConnectResetRequest) Module() string { return ModuleInternal }

// ClientDetectionRequest is pushed by the server to check the client is alive.
type ClientDetectionRequest struct {
	Request
}

func (*ClientDetectionRequest) Module() string { return ModuleInternal }

// ConfigChangeNotifyRequest is pushed by the server when a listened config
// item has changed.
type ConfigChangeNotifyRequest struct {
	Request
	DataID string `json:"dataId"`
	Group  string `json:"group"`
	Tenant string `json:"tenant"`
}

func (*ConfigChangeNotifyRequest) Module() string { return ModuleConfig }

// ConfigListenContext identifies one listened item and the digest of the
// content the client currently holds.
type ConfigListenContext struct {
	Group  string `json:"group"`
	MD5    string `json:"md5"`
	DataID string `json:"dataId"`
	Tenant string `json:"tenant"`
}

// ConfigBatchListenRequest starts (Listen=true) or stops listening to a batch
// of config items.
type ConfigBatchListenRequest struct {
	Request
	Listen               bool                  `json:"listen"`
	ConfigListenContexts []ConfigListenContext `json:"configListenContexts"`
}

func (*ConfigBatchListenRequest) Module() string { return ModuleConfig }

func (r *ConfigBatchListenRequest) AddContext(group, md5, dataID, tenant string) {
	r.ConfigListenContexts = append(r.ConfigListenContexts, ConfigListenContext{
		Group:  group,
		MD5:    md5,
		DataID: dataID,
		Tenant: tenant,
	})
}

// ConfigQueryRequest fetches the current content of a config item.
type ConfigQueryRequest struct {
	Request
	DataID string `json:"dataId"`
	Group  string `json:"group"`
	Tenant string `json:"tenant"`
	Tag    string `json:"tag,omitempty"`
}

func (*ConfigQueryRequest) Module() string { return ModuleConfig }
