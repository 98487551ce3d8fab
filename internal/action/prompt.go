package action

import "strings"

// SchemaPrompt returns the system prompt that instructs a completion model to
// answer with a single JSON object in the [Wire] shape.
func SchemaPrompt() string {
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames[1:] {
		names = append(names, n)
	}
	names = append(names, kindNames[Unknown])

	var b strings.Builder
	b.WriteString(`You convert a spoken browser command into a JSON object.

Only return valid JSON. Do not add explanations or markdown.

Schema:
{
  "action": "`)
	b.WriteString(strings.Join(names, " | "))
	b.WriteString(`",
  "url": string (only for OPEN_URL),
  "query": string (only for SEARCH),
  "direction": "up | down" (only for SCROLL),
  "targetText": string (only for CLICK),
  "buttonName": string (only for CLICK when the user names a button)
}

Rules:
- To open a website use OPEN_URL with a full https URL.
- "scroll down" / "scroll up" use SCROLL with direction "down" / "up".
- Going to the top or bottom of the page uses SCROLL_TOP or SCROLL_BOTTOM.
- To click something visible use CLICK and put the FULL visible label in targetText
  ("click on diseases and parasites" gives targetText "diseases and parasites", never "on").
- For "click the X button" put the complete name X in buttonName. Drop filler words
  such as "on", "the" and "button" around the name.
- BACK, FORWARD and REFRESH navigate the browser history.
- To search use SEARCH with the search text in query.
- READ_PAGE reads the page aloud. STOP_READING stops reading.
- PAUSE_READING and RESUME_READING pause or continue reading.
- FAST_FORWARD and REWIND skip forward or back while reading.
- DESCRIBE_PAGE describes what the page looks like.
- Requests for bigger click targets, bigger buttons or zooming in use INCREASE_TARGET_SIZE;
  smaller targets or zooming out use DECREASE_TARGET_SIZE.
- If you are not sure, return {"action": "UNKNOWN"}.`)
	return b.String()
}
