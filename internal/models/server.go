package models

import "time"

// ServerStatus is the health state of a monitored server.
type ServerStatus string

const (
	ServerStatusUnknown     ServerStatus = "Unknown"
	ServerStatusOnline      ServerStatus = "Online"
	ServerStatusOffline     ServerStatus = "Offline"
	ServerStatusMaintenance ServerStatus = "Maintenance"
	ServerStatusError       ServerStatus = "Error"
)

// Server is a host running an agent.
type Server struct {
	Name          string       `json:"server_name"`
	DisplayName   string       `json:"display_name,omitempty"`
	Status        ServerStatus `json:"status"`
	AgentVersion  string       `json:"agent_version,omitempty"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty"`
	IsActive      bool         `json:"is_active"`
	IPAddress     string       `json:"ip_address,omitempty"`
	OSInfo        string       `json:"os_info,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// HeartbeatAge returns how long ago the last heartbeat arrived. A server
// that never sent one is treated as infinitely old.
func (s *Server) HeartbeatAge(now time.Time) time.Duration {
	if s.LastHeartbeat == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(*s.LastHeartbeat)
}

// Heartbeat is what an agent reports periodically.
type Heartbeat struct {
	ServerName   string `json:"server_name"`
	DisplayName  string `json:"display_name,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	OSInfo       string `json:"os_info,omitempty"`
}
