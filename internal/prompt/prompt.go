// Package prompt assembles model prompts from embedded templates and the
// live context toggles. Templates carry bracketed placeholders; each build
// substitutes them in a fixed order, and disabled toggles collapse to
// nothing so the prompt never mentions them.
package prompt

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/aidbud/internal/situation"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Context is the retrieved conversation context for one turn.
type Context struct {
	// Responses are past-turn chunks, most relevant first.
	Responses []string
	// Attachments are past-attachment lines carrying id and description.
	Attachments []string
}

// Builder renders prompts against the current situation state.
type Builder struct {
	state *situation.Manager
}

func NewBuilder(state *situation.Manager) *Builder {
	return &Builder{state: state}
}

// Attachment returns the attachment-description prompt. It takes no
// substitutions: the media itself travels alongside the prompt.
func (b *Builder) Attachment() string {
	return b.load("attachment.txt")
}

// Query renders the plain answer prompt.
func (b *Builder) Query(query, attachmentDescription string, ctx Context) string {
	p := b.loadTriaged("triage_query.txt", "query.txt")
	p = insertQuery(p, query)
	p = insertAttachmentDescription(p, attachmentDescription)
	p = insertConversationContext(p, ctx)
	p = b.insertFirstAid(p)
	return b.insertCurrentSituation(p)
}

// QueryFunction renders the routing prompt that lets the model request a
// re-examination of a past attachment.
func (b *Builder) QueryFunction(query string, ctx Context) string {
	p := b.loadTriaged("triage_query_function.txt", "query_function.txt")
	p = insertQuery(p, query)
	p = insertConversationContext(p, ctx)
	p = b.insertFirstAid(p)
	return b.insertCurrentSituation(p)
}

// Function renders the prompt answering a query against a re-examined
// attachment description.
func (b *Builder) Function(query, attachmentDescription string, ctx Context) string {
	p := b.loadTriaged("triage_function.txt", "function.txt")
	p = insertQuery(p, query)
	p = insertAttachmentDescription(p, attachmentDescription)
	p = insertConversationContext(p, ctx)
	p = b.insertFirstAid(p)
	return b.insertCurrentSituation(p)
}

func (b *Builder) load(name string) string {
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		// Templates are compiled in; a miss is a programming error.
		panic(fmt.Sprintf("missing prompt template %s: %v", name, err))
	}
	return string(data)
}

// loadTriaged picks the triage variant when the protocol toggle is on and
// substitutes the protocol right away.
func (b *Builder) loadTriaged(triaged, plain string) string {
	t := b.state.Triage()
	if !t.Enabled {
		return b.load(plain)
	}
	p := b.load(triaged)
	return replaceOnce(p, "[TRIAGE]", "\n**Triage:**\n"+formatProtocol(t.Protocol)+"\n")
}

func insertQuery(p, query string) string {
	if query == "" {
		return replaceOnce(p, "[QUERY]", "")
	}
	return replaceOnce(p, "[QUERY]", "\n**Query:**\n"+query+"\n")
}

func insertAttachmentDescription(p, description string) string {
	if description == "" {
		return replaceOnce(p, "[ATTACHMENT DESCRIPTION]", "")
	}
	return replaceOnce(p, "[ATTACHMENT DESCRIPTION]", "\n**Attachment Description:**\n"+description+"\n")
}

func insertConversationContext(p string, ctx Context) string {
	var sections []string
	if len(ctx.Responses) > 0 {
		sections = append(sections, "\n**Relevant past conversation history:**\n"+strings.Join(ctx.Responses, "\n"))
	}
	if len(ctx.Attachments) > 0 {
		sections = append(sections, "\n**Relevant context from past attachments:**\n"+strings.Join(ctx.Attachments, "\n"))
	}
	if len(sections) == 0 {
		return replaceOnce(p, "[CONVERSATION CONTEXT]", "")
	}
	return replaceOnce(p, "[CONVERSATION CONTEXT]", strings.Join(sections, "\n")+"\n")
}

const availabilityLegend = "Where IMMEDIATE means basic first aid is readily available, " +
	"NON-IMMEDIATE means basic first aid is not readily available, " +
	"and UNAVAILABLE means basic first aid is not available."

func (b *Builder) insertFirstAid(p string) string {
	fa := b.state.FirstAid()
	if !fa.Enabled {
		return replaceOnce(p, "[FIRST AID AVAILABILITY]", "")
	}
	section := "\n**First Aid:**\n" + availabilityLegend + "\n" + string(fa.Availability) + "\n"
	return replaceOnce(p, "[FIRST AID AVAILABILITY]", section)
}

func (b *Builder) insertCurrentSituation(p string) string {
	cs := b.state.Current()
	if !cs.Enabled {
		return replaceOnce(p, "[CURRENT SITUATION]", "")
	}
	return replaceOnce(p, "[CURRENT SITUATION]", "\n**Current Situation:**\n"+cs.Situation+"\n")
}

// formatProtocol renders the triage protocol as sorted "level: criteria"
// lines so the prompt is stable across runs.
func formatProtocol(protocol map[string]string) string {
	levels := make([]string, 0, len(protocol))
	for level := range protocol {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	lines := make([]string, 0, len(levels))
	for _, level := range levels {
		lines = append(lines, level+": "+protocol[level])
	}
	return strings.Join(lines, "\n")
}

func replaceOnce(p, placeholder, section string) string {
	return strings.Replace(p, placeholder, section, 1)
}
