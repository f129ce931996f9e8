package classify

// Vocabulary constants for utterance classification. These are preserved
// bit-for-bit once established (spec §4.3, §6.3) — changing any set changes
// which utterances get admitted to the backend.
//
// The spec and the distilled original source name these sets but do not
// enumerate their contents; they are populated here from common
// conversational filler/acknowledgement vocabulary observed across the
// reference intent-filtering code in the retrieved pack (Mandarin no-action
// and interrogative markers in particular).

// KeepShortTokens are short utterances that are nonetheless meaningful and
// must never be treated as filler regardless of length.
var KeepShortTokens = set(
	"好", "好的", "是", "对", "不", "不是", "停", "等等", "可以", "行",
	"ok", "okay", "yes", "no", "stop", "wait", "right",
)

// DropFillerTokens are exact-match acknowledgement/filler tokens.
var DropFillerTokens = set(
	"呃", "嗯", "啊", "哦", "诶", "唉", "哎", "嗯嗯", "啊啊",
)

// CommonFillers are short filler phrases beyond single characters.
var CommonFillers = set(
	"那个", "这个", "就是", "然后呢", "怎么说呢", "emmm", "额",
)

// LowSemanticSingleTokens are single tokens carrying essentially no
// propositional content on their own.
var LowSemanticSingleTokens = set(
	"的", "了", "吧", "呀", "啦", "哈", "哈哈", "嘛", "呗",
)

// ZHFillerChars are individual CJK characters that, when an entire token is
// composed of nothing but these, mark the token as filler (classification
// step 5).
var ZHFillerChars = runeSet("嗯啊呃哦诶唉哎呀啦嘛呗哈")

// ENLowSemanticWords are short English words low in standalone meaning.
var ENLowSemanticWords = set(
	"um", "uh", "er", "erm", "hmm", "like", "yeah", "okay", "ok", "so", "well", "uhh", "umm",
)

// ENFillerWords are English filler interjections.
var ENFillerWords = set(
	"um", "uh", "er", "erm", "hmm", "uhh", "umm", "ah", "oh", "huh",
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func runeSet(s string) map[rune]struct{} {
	m := make(map[rune]struct{}, len(s))
	for _, r := range s {
		m[r] = struct{}{}
	}
	return m
}
