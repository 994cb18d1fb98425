package office

import "hash/fnv"

// Canned boss lines used when no transcript-derived speech is available.
// Selection is keyed on a seed string so replaying a session reproduces
// the same dialogue.

var workAcceptanceQuotes = []string{
	"On it, boss!",
	"Consider it done.",
	"I'll get right to it.",
	"Leave it to me!",
	"Rolling up my sleeves now.",
	"Time to make some magic happen.",
	"Challenge accepted!",
	"You got it, chief.",
	"Adding that to the top of the pile.",
	"Let's ship it.",
	"Say no more.",
	"I was born for this task.",
	"Firing up the keyboard!",
	"This one's going in the win column.",
	"Another day, another deploy.",
}

var jobCompletionQuotes = []string{
	"All done! That's a wrap.",
	"Mission accomplished!",
	"Ship it and call it a day.",
	"Another one for the highlight reel.",
	"Done and dusted.",
	"The build is green, my job here is done.",
	"Task complete. Coffee earned.",
	"Nailed it.",
	"That's going straight to production.",
	"Wrapped up with a bow on top.",
	"Finished! Time to water the office plants.",
	"Job's done. Who's next?",
	"Closing the ticket with pride.",
	"All tests passing, all boxes checked.",
	"And that, folks, is how it's done.",
}

// WorkAcceptanceQuote picks a canned acceptance line for the seed.
func WorkAcceptanceQuote(seed string) string {
	return workAcceptanceQuotes[quoteIndex(seed, len(workAcceptanceQuotes))]
}

// JobCompletionQuote picks a canned completion line for the seed.
func JobCompletionQuote(seed string) string {
	return jobCompletionQuotes[quoteIndex(seed, len(jobCompletionQuotes))]
}

func quoteIndex(seed string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}
