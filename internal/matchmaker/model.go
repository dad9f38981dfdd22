package matchmaker

import "time"

// Member 大厅成员
type Member struct {
	ID     string `json:"id" bson:"id" binding:"required"`
	Name   string `json:"name" bson:"name"`
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty"`
}

// QueueEntry 一个等待对手的大厅。只会在被配对时置 processed（或被删除），其余字段不再修改
type QueueEntry struct {
	ID          string     `json:"id" bson:"_id"`
	LobbyID     string     `json:"lobbyId" bson:"lobbyId"`
	OwnerID     string     `json:"ownerId,omitempty" bson:"ownerId,omitempty"`
	Members     []Member   `json:"members" bson:"members"`
	GameType    string     `json:"gameType,omitempty" bson:"gameType,omitempty"`
	TeamSize    int        `json:"teamSize,omitempty" bson:"teamSize,omitempty"`
	Platform    string     `json:"platform,omitempty" bson:"platform,omitempty"`
	Mode        string     `json:"mode,omitempty" bson:"mode,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	Processed   bool       `json:"processed" bson:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
}

type MatchStatus string

const (
	MatchPending MatchStatus = "pending"
)

// MatchPlayer 对局中的玩家，带来源大厅
type MatchPlayer struct {
	Member  `bson:",inline"`
	LobbyID string `json:"lobbyId" bson:"lobbyId"`
}

// Match 两个大厅配对后的对局
type Match struct {
	ID        string        `json:"id" bson:"_id"`
	LobbyA    string        `json:"lobbyA" bson:"lobbyA"`
	LobbyB    string        `json:"lobbyB" bson:"lobbyB"`
	Players   []MatchPlayer `json:"players" bson:"players"`
	GameType  string        `json:"gameType" bson:"gameType"`
	TeamSize  int           `json:"teamSize" bson:"teamSize"`
	Platform  string        `json:"platform" bson:"platform"`
	Mode      string        `json:"mode" bson:"mode"`
	Status    MatchStatus   `json:"status" bson:"status"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
}

const NotificationMatchFound = "match_found"

type Notification struct {
	ID          string    `json:"id" bson:"_id"`
	RecipientID string    `json:"recipientId" bson:"recipientId"`
	Type        string    `json:"type" bson:"type"`
	MatchID     string    `json:"matchId,omitempty" bson:"matchId,omitempty"`
	Title       string    `json:"title" bson:"title"`
	Message     string    `json:"message" bson:"message"`
	Read        bool      `json:"read" bson:"read"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// MatchSummary 处理结果中返回给调用方的对局摘要
type MatchSummary struct {
	MatchID  string        `json:"matchId"`
	LobbyA   string        `json:"lobbyA"`
	LobbyB   string        `json:"lobbyB"`
	GameType string        `json:"gameType"`
	TeamSize int           `json:"teamSize"`
	Platform string        `json:"platform"`
	Mode     string        `json:"mode"`
	Players  []MatchPlayer `json:"players"`
}

func (m *Match) Summary() MatchSummary {
	return MatchSummary{
		MatchID:  m.ID,
		LobbyA:   m.LobbyA,
		LobbyB:   m.LobbyB,
		GameType: m.GameType,
		TeamSize: m.TeamSize,
		Platform: m.Platform,
		Mode:     m.Mode,
		Players:  m.Players,
	}
}

// RunResult 一次队列处理的结果
type RunResult struct {
	MatchesCreated []MatchSummary `json:"matchesCreated"`
	ProcessedCount int            `json:"processedCount"`
}

// EnqueueRequest 大厅房主发起匹配  body: {lobbyId, members, gameType, teamSize, platform, mode}
type EnqueueRequest struct {
	LobbyID  string   `json:"lobbyId" binding:"required"`
	Members  []Member `json:"members" binding:"required,min=1,dive"`
	GameType string   `json:"gameType"`
	TeamSize int      `json:"teamSize" binding:"gte=0"`
	Platform string   `json:"platform"`
	Mode     string   `json:"mode"`
}

// ProcessResponse POST /matchmaking/process 的成功响应
type ProcessResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Matches []MatchSummary `json:"matches"`
}

type DebugInfo struct {
	Timestamp      string `json:"timestamp"`
	Environment    string `json:"environment"`
	ProcessedCount int    `json:"processedCount"`
}

type DebugProcessResponse struct {
	ProcessResponse
	Debug DebugInfo `json:"debug"`
}
