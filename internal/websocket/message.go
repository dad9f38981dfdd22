package websocket

// OutgoingMessage 服务端推送，Event 如 "match_found"
type OutgoingMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// IncomingMessage 客户端上行；From 由服务端按连接身份填写，忽略客户端传值
type IncomingMessage struct {
	From  string      `json:"-"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

const (
	EventNotificationRead = "notification_read" // data: 通知 id
	EventError            = "error"
)
