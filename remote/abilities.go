package remote

import "os"

// ClientVersion is reported to the server during connection setup.
const ClientVersion = "Nacos-Go-Client:v2.1.0"

type ClientRemoteAbility struct {
	SupportRemoteConnection bool `json:"supportRemoteConnection"`
}

type ClientConfigAbility struct {
	SupportRemoteMetrics bool `json:"supportRemoteMetrics"`
}

type ClientNamingAbility struct {
	SupportDeltaPush    bool `json:"supportDeltaPush"`
	SupportRemoteMetric bool `json:"supportRemoteMetric"`
}

// ClientAbilities describes the optional protocol features the client supports.
type ClientAbilities struct {
	RemoteAbility ClientRemoteAbility `json:"remoteAbility"`
	ConfigAbility ClientConfigAbility `json:"configAbility"`
	NamingAbility ClientNamingAbility `json:"namingAbility"`
}

func DefaultClientAbilities() ClientAbilities {
	return ClientAbilities{
		RemoteAbility: ClientRemoteAbility{SupportRemoteConnection: true},
		ConfigAbility: ClientConfigAbility{SupportRemoteMetrics: true},
		NamingAbility: ClientNamingAbility{},
	}
}

const (
	LabelSource        = "source"
	LabelSourceSDK     = "sdk"
	LabelSourceCluster = "cluster"
	LabelModule        = "module"
	LabelTaskID        = "taskId"
	LabelAppName       = "AppName"
	LabelVipserverTag  = "Vipserver-Tag"
	LabelAmoryTag      = "Amory-Tag"
)

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	return fallback
}

// CreateLabels builds the label set sent with ConnectionSetupRequest. The
// environment is consulted on every call.
func CreateLabels() map[string]string {
	return map[string]string{
		LabelModule:       ModuleConfig,
		LabelSource:       LabelSourceSDK,
		LabelTaskID:       getenv("TASK_ID", "0"),
		LabelAppName:      getenv("APP_NAME", "unknown"),
		LabelVipserverTag: getenv("VIP_SERVER_TAG", ""),
		LabelAmoryTag:     getenv("AMORY_TAG", ""),
	}
}
