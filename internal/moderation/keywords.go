package moderation

type Category string

const (
	CategorySexual      Category = "sexual"
	CategoryHate        Category = "hate"
	CategoryViolence    Category = "violence"
	CategoryChildSafety Category = "child_safety"
)

// DefaultLists is the curated term list per category. Terms are matched on
// word boundaries, case-insensitively; spaces inside a term match any run
// of whitespace.
func DefaultLists() map[Category][]string {
	return map[Category][]string{
		CategorySexual: {
			"porn", "porno", "pornography", "xxx", "hentai", "nude", "nudes",
			"naked", "onlyfans", "camgirl", "erotic", "sex tape", "blowjob",
			"orgasm", "explicit sex", "nsfw",
		},
		CategoryHate: {
			"white power", "heil hitler", "sieg heil", "white genocide",
			"race traitor", "subhuman", "master race", "ethnic cleansing",
			"go back to your country",
		},
		CategoryViolence: {
			"kill yourself", "kys", "mass shooting", "shoot up", "bomb threat",
			"behead", "beheading", "massacre", "gore", "snuff", "torture",
			"murder", "stab", "execution video",
		},
		CategoryChildSafety: {
			"child porn", "child pornography", "csam", "jailbait",
			"underage nude", "underage nudes", "underage sex", "underage porn",
			"preteen nude", "preteen sex", "pedo", "pedophile", "paedophile",
			"lolicon", "loli porn", "minor nudes",
		},
	}
}
