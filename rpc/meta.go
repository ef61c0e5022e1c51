package rpc

import (
	"time"

	"github.com/maxpoletaev/nacosclient/remote"
)

const ConnectTypeGRPC = "GRPC"

// Meta describes an established connection.
type Meta struct {
	ConnectType  string
	ClientIP     string
	RemoteIP     string
	RemotePort   int
	Version      string
	ConnectionID string
	CreateTime   time.Time
	AppName      string
	Tenant       string
	Labels       map[string]string
}

func (m *Meta) IsSDKSource() bool {
	return m.Labels[remote.LabelSource] == remote.LabelSourceSDK
}

func (m *Meta) IsClusterSource() bool {
	return m.Labels[remote.LabelSource] == remote.LabelSourceCluster
}

func (m Meta) clone() Meta {
	labels := make(map[string]string, len(m.Labels))
	for k, v := range m.Labels {
		labels[k] = v
	}

	m.Labels = labels

	return m
}

type State int32

const (
	StateUnconnected State = iota
	StateChecking
	StateSettingUp
	StateReady
	StateAbandoned
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateChecking:
		return "checking"
	case StateSettingUp:
		return "setting_up"
	case StateReady:
		return "ready"
	case StateAbandoned:
		return "abandoned"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
