package mcpserver

// CanvasFormatContract describes the canvas model LLM consumers edit through
// the tools of this server.
const CanvasFormatContract = `# Piko Canvas Format

A canvas is a directed graph of nodes joined by edges. Edges carry data
from a source node into a target node: prompts feed generators, files feed
generators as references.

## Node kinds

| kind     | payload fields                                                |
|----------|---------------------------------------------------------------|
| prompt   | title, text                                                   |
| file     | title, files[] ({url, name, type}), activeIndex               |
| nano     | title, images[] ({url, name, type}), activeIndex, resolution, aspect |

- New nodes get a default payload: prompt "Prompt", file "File",
  nano "Nano Banana Pro" at 1K, 4:3.
- ` + "`resolution`" + ` is one of 1K, 2K, 4K.
- ` + "`aspect`" + ` is one of 1:1, 4:3, 3:4, 16:9, 9:16.
- ` + "`activeIndex`" + ` selects the shown media and is 0 for an empty list.

## Edges

- Both endpoints must exist. Deleting a node deletes its edges.
- Connecting the same source and target twice returns the existing edge.
- Edges end in a closed arrow.

## Saving

Edits are saved automatically once the canvas has been quiet for a moment.
Use the ` + "`flush`" + ` tool to save immediately and ` + "`save_status`" + ` to check
the outcome. A read-only session rejects every edit.

## Media

Attach images with ` + "`attach_media`" + `. Files land in the shared attachments
directory (flat, no sub-folders) and are referenced as
` + "`/attachments/<filename>`" + `. Supported formats: png, jpg, jpeg, gif, webp,
svg, pdf.
`
