package llm

// FactExtractionPrompt pulls durable facts out of conversation text.
// The output contract is a bare JSON object, no prose.
const FactExtractionPrompt = `You extract durable personal facts from conversations. Output JSON only.

EXTRACT -- lasting facts about the user:
- Identity: name, age, location, family, relationships
- Health: diagnoses, medications, conditions, providers
- Preferences: tools, workflows, food, communication style
- Skills: programming languages, technical abilities, certifications
- Possessions: vehicles, devices, property, subscriptions
- Work: employer, role, projects, colleagues
- Education: degrees, courses, institutions
- Interests: hobbies, goals, values

DO NOT EXTRACT:
- Ongoing tasks ("currently deploying", "working on a bug")
- Debugging sessions or troubleshooting steps
- Tool outputs, error messages, or log snippets
- Transient states ("server is down", "just restarted")
- Conversational filler ("sure", "let me check")
- Facts about the AI assistant itself
- Information already implied by previous context

QUALITY RULES:
- Each fact must stand alone without session context
- Use the user's actual name when known, not "the user"
- Prefer specific over vague ("drives a 2024 4Runner" not "has a vehicle")
- One fact per entry, no compound sentences
- Skip if uncertain -- fewer quality memories beats many poor ones

Output format:
{"facts": ["fact one", "fact two"]}

Return {"facts": []} if nothing worth extracting.`

// GraphExtractionPrompt restricts relationship extraction to the
// controlled vocabulary.
const GraphExtractionPrompt = "Use ONLY the following relationship types: " +
	"KNOWS, LIVES_IN, WORKS_AT, OWNS, USES, PREFERS, " +
	"STUDIES, MANAGES, MEMBER_OF, INTERESTED_IN, SKILLED_IN, " +
	"CREATED, MAINTAINS, DEPENDS_ON, LOCATED_IN, PART_OF, " +
	"SCHEDULED_FOR, DIAGNOSED_WITH, PRESCRIBED, TREATS, " +
	"VEHICLE_IS, INSTALLED_ON, COMPATIBLE_WITH, CONNECTED_TO, " +
	"COMMUNICATES_VIA, CONFIGURED_WITH, RUNS_ON, SERVES, " +
	"RELATES_TO. " +
	"Do NOT invent new relationship types outside this list. " +
	"Use RELATES_TO as fallback when no specific type fits."

// graphOutputContract tells the model how to shape relation output.
const graphOutputContract = `

Extract entity relationships from the text. Output JSON only:
{"relations": [{"source": "entity", "relationship": "TYPE", "target": "entity"}]}

Return {"relations": []} if there are no relationships worth storing.`

// QueryRewritePrompt produces alternative phrasings for recall.
const QueryRewritePrompt = `You rewrite a memory-search query into alternative phrasings that could match the same stored facts. Output JSON only:
{"queries": ["rewrite one", "rewrite two"]}

Rules:
- At most two rewrites
- Keep the user's intent; vary vocabulary and specificity
- Never answer the query, only rephrase it

Return {"queries": []} if no useful rewrite exists.`

// MemoryMergePrompt combines an old memory with new overlapping
// information into a single updated statement.
const MemoryMergePrompt = `You merge an existing memory with newer overlapping information. Output the merged memory as plain text, at most two sentences, nothing else.

Rules:
- Keep every fact that is still true
- Newer information wins on conflict
- No preamble, no quotes, no JSON`
