package artists

// SampleArtists is the demo data loaded into an empty database in dev mode.
var SampleArtists = []Artist{
	{Name: "Nina Simone", Genre: "jazz", Country: "US"},
	{Name: "Fela Kuti", Genre: "afrobeat", Country: "NG"},
	{Name: "Björk", Genre: "electronic", Country: "IS"},
	{Name: "Caetano Veloso", Genre: "tropicalia", Country: "BR"},
	{Name: "Kraftwerk", Genre: "electronic", Country: "DE"},
	{Name: "Ali Farka Touré", Genre: "blues", Country: "ML"},
}
