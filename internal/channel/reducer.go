package channel

// State 实时频道连接状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event 驱动状态迁移的事件
type Event int

const (
	EventMount        Event = iota // 挂载，开始建立连接
	EventJoinAcked                 // 服务端确认加入会话
	EventConnLost                  // 连接断开，可自动重连
	EventRetryAttempt              // 发起一次重连
	EventRetryExhausted            // 重连次数耗尽
	EventAuthRejected              // 鉴权被拒绝，不自动重连
	EventManualRetry               // 用户手动重试
	EventUnmount                   // 卸载，主动关闭
)

// Reduce 纯状态迁移函数，非法事件保持原状态
// 只有收到加入确认后才算Connected；鉴权失败进入Error，只有手动重试能离开
func Reduce(state State, event Event) State {
	switch event {
	case EventMount:
		if state == StateIdle || state == StateDisconnected {
			return StateConnecting
		}
	case EventJoinAcked:
		if state == StateConnecting || state == StateReconnecting {
			return StateConnected
		}
	case EventConnLost:
		if state == StateConnecting || state == StateConnected || state == StateReconnecting {
			return StateReconnecting
		}
	case EventRetryAttempt:
		if state == StateReconnecting {
			return StateReconnecting
		}
	case EventRetryExhausted:
		if state == StateReconnecting {
			return StateDisconnected
		}
	case EventAuthRejected:
		if state != StateIdle {
			return StateError
		}
	case EventManualRetry:
		if state == StateDisconnected || state == StateError {
			return StateConnecting
		}
	case EventUnmount:
		return StateIdle
	}
	return state
}
