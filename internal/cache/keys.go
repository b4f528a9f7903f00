package cache

import "fmt"

// ThreadKey is the thread-with-messages read replica
func ThreadKey(threadID string) string {
	return fmt.Sprintf("thread:%s:withMessages", threadID)
}

// UserThreadsKey is the user's thread list
func UserThreadsKey(userID string) string {
	return fmt.Sprintf("user:%s:threads", userID)
}

// StreamsKey lists the stream ids registered for a chat
func StreamsKey(chatID string) string {
	return fmt.Sprintf("chat:%s:streams", chatID)
}

// StreamChatKey records the chat a stream was registered for
func StreamChatKey(streamID string) string {
	return fmt.Sprintf("stream:%s:chat", streamID)
}

// StopStreamChannel is the pub/sub channel that aborts a stream
func StopStreamChannel(streamID string) string {
	return fmt.Sprintf("stop-stream:%s", streamID)
}

// PartialShareKey holds a partial share record
func PartialShareKey(token string) string {
	return fmt.Sprintf("partial_share:%s", token)
}

// UserPartialSharesKey holds the tokens a user created
func UserPartialSharesKey(userID string) string {
	return fmt.Sprintf("user_partial_shares:%s", userID)
}
