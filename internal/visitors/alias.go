package visitors

import "hash/fnv"

var aliasAdjectives = []string{
	"Amber", "Bold", "Brisk", "Calm", "Clever", "Cosmic", "Curious", "Daring", "Eager", "Gentle",
	"Golden", "Happy", "Humble", "Jolly", "Keen", "Lively", "Lucky", "Mellow", "Misty", "Nimble",
	"Noble", "Patient", "Plucky", "Quiet", "Rapid", "Rustic", "Serene", "Silver", "Sly", "Snowy",
	"Sunny", "Swift", "Tidy", "Vivid", "Wandering", "Witty", "Zesty", "Breezy", "Dusky", "Frosty",
}

var aliasAnimals = []string{
	"Badger", "Bison", "Crane", "Dolphin", "Falcon", "Ferret", "Gecko", "Heron", "Ibis", "Jackal",
	"Koala", "Lemur", "Lynx", "Marmot", "Narwhal", "Ocelot", "Orca", "Otter", "Panda", "Pelican",
	"Puffin", "Quokka", "Raven", "Salmon", "Stoat", "Tapir", "Toucan", "Walrus", "Wombat", "Yak",
}

// Alias returns a stable human-readable name for a visitor id. Different ids
// may share an alias; it is for display only.
func Alias(visitorID string) string {
	h := fnv.New32a()
	h.Write([]byte(visitorID))
	n := int(h.Sum32())

	adjective := aliasAdjectives[n%len(aliasAdjectives)]
	animal := aliasAnimals[(n/len(aliasAdjectives))%len(aliasAnimals)]
	return adjective + " " + animal
}
