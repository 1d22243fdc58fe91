package rag

import "strings"

// Stop-word list for the lexical index: the common Russian function words
// (the corpus is a Russian-language company site) plus a small English set
// for mixed-language passages.
var stopwords = buildStopwords(`
и в во не что он на я с со как а то все она так его но да ты к у же вы за бы по
только ее мне было вот от меня еще нет о из ему теперь когда даже ну вдруг ли
если уже или ни быть был него до вас нибудь опять уж вам ведь там потом себя
ничего ей может они тут где есть надо ней для мы тебя их чем была сам чтоб без
будто чего раз тоже себе под будет ж тогда кто этот того потому этого какой
совсем ним здесь этом один почти мой тем чтобы нее сейчас были куда зачем всех
никогда можно при наконец два об другой хоть после над больше тот через эти нас
про всего них какая много разве три эту моя впрочем хорошо свою этой перед
иногда лучше чуть том нельзя такой им более всегда конечно всю между это
the a an and or but if then else when at by for with about into through during
of in on to from is are was were be been being have has had do does did not no
this that these those it its as than such both each few more most other some
`)

func buildStopwords(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(raw) {
		set[w] = true
	}
	return set
}
