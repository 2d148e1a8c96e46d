package game

import "math/rand"

// ConceptPair is the left/right spectrum a round is played on.
type ConceptPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

var conceptPairs = []ConceptPair{
	{Left: "Hot", Right: "Cold"},
	{Left: "Underrated", Right: "Overrated"},
	{Left: "Scary", Right: "Not Scary"},
	{Left: "Healthy", Right: "Unhealthy"},
	{Left: "Cheap", Right: "Expensive"},
	{Left: "Round", Right: "Pointy"},
	{Left: "Loud", Right: "Quiet"},
	{Left: "Useless", Right: "Useful"},
	{Left: "Old-fashioned", Right: "Futuristic"},
	{Left: "Guilty Pleasure", Right: "Openly Loved"},
	{Left: "Hard to Find", Right: "Easy to Find"},
	{Left: "Bad Habit", Right: "Good Habit"},
	{Left: "Dry", Right: "Wet"},
	{Left: "Villain", Right: "Hero"},
	{Left: "Fantasy", Right: "Sci-Fi"},
}

// RandomConceptPair draws the spectrum for a new round.
func RandomConceptPair() ConceptPair {
	return conceptPairs[rand.Intn(len(conceptPairs))]
}
