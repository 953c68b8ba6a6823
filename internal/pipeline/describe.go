package pipeline

import "fmt"

const describeSystemPrompt = `You are a senior engineer documenting a codebase for semantic search.
Answer in markdown only, with no preamble and no closing remarks.`

const classPromptFormat = `Describe the following %s source file for a knowledge base.

Use exactly this structure:

# <ClassName>

One or two paragraphs: the business purpose of the class, its main
responsibilities and its collaborators.

## Methods

### <methodName>

What the method does, its inputs and outputs, and notable edge cases.

` + "```" + `
<the method's source code>
` + "```" + `

Repeat the "###" subsection for every public method. Source file:

%s`

const enumPromptFormat = `Describe the following %s enum for a knowledge base.

Use exactly this structure:

# <EnumName>

One paragraph: what the enum models and where it is used, followed by
one bullet per constant explaining its meaning.

Source file:

%s`

// describePrompt builds the user prompt for a source file
func describePrompt(class Classification, language, source string) string {
	if class == EnumSource {
		return fmt.Sprintf(enumPromptFormat, language, source)
	}
	return fmt.Sprintf(classPromptFormat, language, source)
}
