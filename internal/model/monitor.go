package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"` // "healthy" or "idle"
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	OnlineUsers []string        `json:"onlineUsers"` // Currently online user IDs
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Live websocket connections
	TotalUsers     int `json:"totalUsers"`     // Distinct users online
}

// RoomStats holds room subscription statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo contains information about a single live room
type RoomInfo struct {
	ChatID        string `json:"chatId"`
	Connections   int    `json:"connections"`   // Connections joined to the room
	OnlineMembers int    `json:"onlineMembers"` // Distinct online users among them
}

// ErrorPayload represents an error response sent to a client via WebSocket
type ErrorPayload struct {
	Message string `json:"message"`
}
