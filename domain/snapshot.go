package domain

// Snapshot is the durable image written by history compaction:
// counters, live participants and the full ordered message sequence.
type Snapshot struct {
	SaveTime           string        `json:"save_time"`
	ServerStartTime    string        `json:"server_start_time"`
	TotalMessages      int           `json:"total_messages"`
	MessageCount       uint64        `json:"message_count"`
	CurrentOnlineUsers int           `json:"current_online_users"`
	OnlineUsers        []string      `json:"online_users"`
	Messages           []Message     `json:"messages"`
	SessionInfo        []SessionInfo `json:"session_info"`
}

type SessionInfo struct {
	Username       string  `json:"username"`
	Address        string  `json:"address"`
	ConnectTime    string  `json:"connect_time"`
	OnlineDuration float64 `json:"online_duration"`
}
