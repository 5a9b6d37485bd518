package theme

import "os"

// Icons used by the live tree viewer and CLI output.
type Icons struct {
	Expanded  string
	Collapsed string
	Leaf      string
	Connected string
	Waiting   string
	Closed    string
	Warning   string
}

var nerdIcons = Icons{
	Expanded:  "",
	Collapsed: "",
	Leaf:      "",
	Connected: "󰄬",
	Waiting:   "󰔟",
	Closed:    "",
	Warning:   "",
}

var asciiIcons = Icons{
	Expanded:  "▾",
	Collapsed: "▸",
	Leaf:      "·",
	Connected: "●",
	Waiting:   "○",
	Closed:    "x",
	Warning:   "!",
}

// CurrentIcons returns nerd font icons when LIVEQUERY_ICONS=nerd, plain
// unicode otherwise.
func CurrentIcons() Icons {
	if os.Getenv("LIVEQUERY_ICONS") == "nerd" {
		return nerdIcons
	}
	return asciiIcons
}
