package hub

import (
	"sharecare/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connected := ms.hub.connectedCount()

	status := "healthy"
	if connected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status: status,
		Connections: model.ConnectionStats{
			TotalConnected: connected,
			TotalUsers:     ms.hub.presence.UserCount(),
		},
		Rooms:       ms.getRoomStats(),
		OnlineUsers: ms.hub.presence.OnlineUserIDs(),
	}
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for chatID, conns := range ms.hub.rooms.Snapshot() {
		online := make(map[string]bool)
		for _, connID := range conns {
			if userID := ms.hub.presence.UserFor(connID); userID != "" {
				online[userID] = true
			}
		}

		stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
			ChatID:        chatID,
			Connections:   len(conns),
			OnlineMembers: len(online),
		})
		stats.TotalRooms++
	}

	return stats
}
