package protocol

// ProtocolVersion is the wire protocol revision reported by system.status
// and the gateway's /health endpoint. Bump it whenever a Frame type or
// payload shape changes in a way clients need to detect.
const ProtocolVersion = 1

// Frame type constants for the Session Gateway's WebSocket wire protocol.
// Inbound frames (client → gateway) use session.{list,load,create},
// chat.{send,interrupt}, review.resolve, agent.list, system.ping.
// Outbound frames (gateway → client) use session.data,
// chat.{stream,tool_use,tool_result,plan,done,error,routed,agent_spawn,agent_result},
// review.{created,resolved}, system.{status,pong}.
const (
	// Inbound: session
	TypeSessionList   = "session.list"
	TypeSessionLoad   = "session.load"
	TypeSessionCreate = "session.create"

	// Inbound: chat
	TypeChatSend      = "chat.send"
	TypeChatInterrupt = "chat.interrupt"

	// Inbound: review / agent / system
	TypeReviewResolve = "review.resolve"
	TypeAgentList     = "agent.list"
	TypeSystemPing    = "system.ping"

	// Outbound: session
	TypeSessionData = "session.data"

	// Outbound: chat
	TypeChatStream     = "chat.stream"
	TypeChatToolUse    = "chat.tool_use"
	TypeChatToolResult = "chat.tool_result"
	TypeChatPlan       = "chat.plan"
	TypeChatDone       = "chat.done"
	TypeChatError      = "chat.error"
	TypeChatRouted     = "chat.routed"
	TypeChatAgentSpawn = "chat.agent_spawn"
	TypeChatAgentResult = "chat.agent_result"

	// Outbound: review / system
	TypeReviewCreated  = "review.created"
	TypeReviewResolved = "review.resolved"
	TypeSystemStatus   = "system.status"
	TypeSystemPong     = "system.pong"

	// TypeSystemError carries frame-level failures (bad auth, malformed
	// payload) that precede any conversation/run context.
	TypeSystemError = "system.error"
)

// MethodRouter dispatch keys. A Client frame's Method selects the handler;
// Type carries the frame family for outbound push frames. Request frames
// reuse their Type as the Method for simple request/reply round trips.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"

	MethodSessionList   = TypeSessionList
	MethodSessionLoad   = TypeSessionLoad
	MethodSessionCreate = TypeSessionCreate

	MethodChatSend      = TypeChatSend
	MethodChatInterrupt = TypeChatInterrupt

	MethodReviewResolve = TypeReviewResolve
	MethodAgentList     = TypeAgentList
	MethodSystemPing    = TypeSystemPing

	MethodMemorySearch = "memory.search"
	MethodMemoryStore  = "memory.store"

	MethodKnowledgeQuery  = "knowledge.query"
	MethodKnowledgeCreate = "knowledge.create"

	MethodCronList   = "cron.list"
	MethodCronCreate = "cron.create"
	MethodCronRun    = "cron.run"

	MethodModelsList   = "models.list"
	MethodModelsUpdate = "models.update"

	MethodAgentsCreate = "agents.create"
	MethodAgentsUpdate = "agents.update"
)
