package conversation

import (
	"strings"

	"chorus/internal/domain"
)

var friendlinessText = map[domain.Friendliness]string{
	domain.FriendlinessWarm:     "Be warm and encouraging; make people feel welcome.",
	domain.FriendlinessBalanced: "Be friendly but professional.",
	domain.FriendlinessReserved: "Keep a polite, reserved tone and skip the small talk.",
}

var responseLengthText = map[domain.ResponseLength]string{
	domain.ResponseLengthConcise:  "Keep replies short: one to three sentences.",
	domain.ResponseLengthBalanced: "Keep replies to a short paragraph unless more detail is asked for.",
	domain.ResponseLengthDetailed: "Give thorough, well-structured replies with concrete detail.",
}

var personalityText = map[domain.Personality]string{
	domain.PersonalityEnergetic:  "Bring energy and enthusiasm to the conversation.",
	domain.PersonalityBalanced:   "Stay even-tempered and engaged.",
	domain.PersonalityThoughtful: "Be calm and reflective; think before you answer.",
}

var humorText = map[domain.Humor]string{
	domain.HumorSerious:  "Stay serious and avoid jokes.",
	domain.HumorBalanced: "Light humor is fine when it fits the moment.",
	domain.HumorWitty:    "Be witty and playful where it does not get in the way.",
}

var expertiseText = map[domain.ExpertiseLevel]string{
	domain.ExpertiseBeginner: "Explain things simply and avoid jargon.",
	domain.ExpertiseBalanced: "Assume a generally informed listener; define specialist terms briefly.",
	domain.ExpertiseExpert:   "Speak as an expert to experts; technical vocabulary is welcome.",
}

const etiquette = `Conversation rules:
- Read the whole conversation before replying.
- Do not repeat points other participants have already made; build on them instead.
- Speak only as yourself. Never write lines for the user or other participants.
- Do not prefix your reply with your own name.
- Keep greetings brief and match the energy of the person you are answering.`

// lookup returns table[v], or the balanced entry for values the table does not know.
func lookup[K ~string](table map[K]string, v K, balanced K) string {
	if s, ok := table[v]; ok {
		return s
	}
	return table[balanced]
}

// StyleInstructions renders the five style axes as one sentence each.
func StyleInstructions(s domain.ChatStyle) []string {
	return []string{
		lookup(friendlinessText, s.Friendliness, domain.FriendlinessBalanced),
		lookup(responseLengthText, s.ResponseLength, domain.ResponseLengthBalanced),
		lookup(personalityText, s.Personality, domain.PersonalityBalanced),
		lookup(humorText, s.Humor, domain.HumorBalanced),
		lookup(expertiseText, s.ExpertiseLevel, domain.ExpertiseBalanced),
	}
}

// BuildSystemPrompt renders the instruction text an agent speaks under.
// The output depends only on p.
func BuildSystemPrompt(p domain.AgentPersona) string {
	var b strings.Builder

	b.WriteString("You are ")
	b.WriteString(p.Name)
	b.WriteString(", one participant in a group conversation with a user and other AI agents.\n")
	if c := strings.TrimSpace(p.Characteristics); c != "" {
		b.WriteString("Your characteristics: ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	if instr := strings.TrimSpace(p.Prompt); instr != "" {
		b.WriteString("\nYour instructions:\n")
		b.WriteString(instr)
		b.WriteString("\n")
	}

	b.WriteString("\nStyle:\n")
	for _, line := range StyleInstructions(p.Style) {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(etiquette)
	return b.String()
}

const selectorInstruction = `You are the moderator of a group conversation between a user and several AI agents. You never speak in the conversation yourself; you only decide which agent should reply next.

Rules:
- Keep the conversation on the user's topic.
- Agents must not talk among themselves unprompted; choose whoever best serves the user's latest message.
- If the user addressed an agent by name, choose that agent.
- Prefer variety: avoid picking the same agent again when another agent can contribute.
- Set "turns" above 1 only when one agent needs several consecutive messages to finish a multi-step answer.
- Set "turns" to 0 when the conversation should pause and wait for the user.

Reply with the chosen agent's id in "agentId" and a one-sentence "reasoning".`

const terminationInstruction = `You are the moderator of a group conversation between a user and several AI agents. Decide whether the conversation should end now.

End the conversation when:
- The exchange was only greetings and every relevant agent has already greeted the user.
- The user's request has been adequately addressed and nothing is left open.
- The agents have started repeating themselves.

Otherwise keep it going. Reply with "shouldTerminate" and a short "reason".`

const summarizerInstruction = `You summarize group conversations between a user and several AI agents. Produce a concise summary that keeps who said what, the user's requests, decisions reached, and open questions. Output only the summary.`
