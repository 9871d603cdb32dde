package models

// Category names one topical partition of the index.
type Category string

const (
	CategoryCore        Category = "core"
	CategoryIntegration Category = "integration"
	CategorySecurity    Category = "security"
	CategoryDeployment  Category = "deployment"
	CategoryGeneral     Category = "general"
)

// AllCategories is the closed category set in routing priority order.
var AllCategories = []Category{
	CategorySecurity,
	CategoryDeployment,
	CategoryIntegration,
	CategoryCore,
	CategoryGeneral,
}

func (c Category) String() string { return string(c) }

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// payload keys shared by every vector store backend
const (
	MetaDocumentID   = "document_id"
	MetaChunkIndex   = "chunk_index"
	MetaContentHash  = "content_hash"
	MetaCategory     = "category"
	MetaHasCode      = "has_code"
	MetaTechnologies = "technologies"
	MetaOversized    = "oversized"
	MetaTags         = "tags"
	MetaDomain       = "domain"
	MetaVersion      = "version"
)

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"
)

var (
	AnswerPromptTemplate = `You are an assistant for Cardano, Aiken and Midnight development questions.
Use only the context below to answer. If the context does not contain the answer, say so.

<context>
%s
</context>

Question: %s
`
)
