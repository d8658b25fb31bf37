package protocol

// Topic naming is part of the wire contract: client and server must derive
// the same transport destination from a peer identity.

const (
	serverTopicPrefix = "callme.server."
	replyTopicPrefix  = "callme.reply."
)

// ServerTopic returns the request topic for the server with the given id.
func ServerTopic(serverID string) string {
	return serverTopicPrefix + serverID
}

// ReplyTopic returns the private reply topic for the client with the given id.
func ReplyTopic(clientID string) string {
	return replyTopicPrefix + clientID
}
