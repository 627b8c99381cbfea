package postprocess

import "strings"

// Stopword profiles keyed by ISO 639-3 code. They drive language detection,
// stopword removal in token reduction and phrase splitting in RAKE.
var stopwordLists = map[string]string{
	"eng": `a about above after again against all also am an and any are as at be because been before being
below between both but by can could did do does doing down during each few for from further had has have
having he her here hers herself him himself his how i if in into is it its itself just me more most my
myself no nor not now of off on once only or other our ours ourselves out over own same she should so some
such than that the their theirs them themselves then there these they this those through to too under
until up very was we were what when where which while who whom why will with would you your yours yourself
yourselves`,
	"deu": `aber alle allem allen aller alles als also am an ander andere anderen auch auf aus bei bin bis bist
da damit dann das dass dein deine dem den der des dich die dies diese dieser dieses dir doch dort du durch
ein eine einem einen einer eines er es etwas euch euer für gegen gewesen hab habe haben hat hatte hatten
hier hin hinter ich ihm ihn ihnen ihr ihre im in indem ist jede jedem jeden jeder jedes jener jetzt kann
kein keine können man manche mein meine mich mir mit muss nach nicht nichts noch nun nur ob oder ohne sehr
sein seine sich sie sind so solche soll sondern sonst über um und uns unser unter viel vom von vor war
waren warst was weil welche wenn wer werde werden wie wieder will wir wird wo wollen zu zum zur zwar
zwischen`,
	"fra": `à ai aie au aux avec avoir bon car ce cela ces cet cette ceux chaque ci comme comment dans de des
du donc elle elles en encore est et été être eu fait faites fois font ici il ils je juste la le les leur
leurs lui ma mais me même mes moi mon ne ni nos notre nous on ont ou où par parce pas peu peut plupart pour
pourquoi qu quand que quel quelle quelles quels qui sa sans se sera ses seulement si sien son sont sous
soyez sur ta tandis te tellement tels tes toi ton tous tout toute toutes très tu un une vos votre vous vu`,
	"spa": `a al algo algunas algunos ante antes como con contra cual cuando de del desde donde durante e el
ella ellas ellos en entre era erais eran eras eres es esa esas ese eso esos esta estaba estaban estado
estamos estar estas este esto estos estoy fue fueron fui ha había han hasta hay la las le les lo los más me
mi mis mucho muy nada ni no nos nosotros o os otra otros para pero poco por porque que quien quienes se sea
sean ser si sido sin sobre son su sus también tanto te tengo tiene tienen todo todos tu tus un una uno unos
usted y ya yo`,
	"ita": `a abbia ad agli ai al alla alle allo anche avere aveva avevano c che chi ci coi col come con contro
cui da dagli dai dal dalla dalle dallo degli dei del della delle dello di dove e ed è era erano essere gli
ha hanno i il in io la le lei li lo loro lui ma mi mia mie miei mio ne negli nei nel nella nelle nello noi
non nostro o per perché più quale quando quella quelle quelli quello questa queste questi questo se sei si
sia siamo sono sta stato su sua sue sugli sui sul sulla sulle suo suoi ti tra tu tua tuo tutti tutto un
una uno vi voi`,
	"por": `a ao aos aquela aquele aqueles as até com como da das de dela dele deles depois do dos e ela elas
ele eles em entre era eram essa esse esta está estão este eu foi foram há isso isto já lhe mais mas me
mesmo meu minha muito na não nas nem no nos nós nossa nosso num numa o os ou para pela pelo por qual quando
que quem se sem ser seu seus só sua suas também te tem têm tinha tu tua um uma você vocês`,
	"nld": `aan al alles als altijd andere ben bij daar dan dat de der deze die dit doch doen door dus een eens en
er ge geen geweest haar had heb hebben heeft hem het hier hij hoe hun iemand iets ik in is ja je kan kon
kunnen maar me meer men met mij mijn moet na naar niet niets nog nu of om omdat onder ons ook op over reeds
te tegen toch toen tot u uit uw van veel voor want waren was wat werd wezen wie wil worden wordt zal ze zelf
zich zij zijn zo zonder zou`,
}

var stopwords = func() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(stopwordLists))
	for lang, list := range stopwordLists {
		set := make(map[string]struct{})
		for _, w := range strings.Fields(list) {
			set[w] = struct{}{}
		}
		out[lang] = set
	}
	return out
}()

var languageAliases = map[string]string{
	"en": "eng", "de": "deu", "ger": "deu", "fr": "fra", "fre": "fra",
	"es": "spa", "it": "ita", "pt": "por", "nl": "nld", "dut": "nld",
}

// StopwordsFor returns the stopword set for a language code (ISO 639-1 or
// 639-3, with an optional region suffix). Unknown languages fall back to
// English.
func StopwordsFor(lang string) map[string]struct{} {
	code := normalizeLanguage(lang)
	if set, ok := stopwords[code]; ok {
		return set
	}
	return stopwords["eng"]
}

func normalizeLanguage(lang string) string {
	code := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	if alias, ok := languageAliases[code]; ok {
		return alias
	}
	return code
}
