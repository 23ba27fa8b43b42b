package catalog

// Franchise is a team a room member can pick before the auction.
type Franchise struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Franchises is the fixed list of selectable teams.
var Franchises = []Franchise{
	{ID: "csk", Name: "Chennai Super Kings"},
	{ID: "dc", Name: "Delhi Capitals"},
	{ID: "gt", Name: "Gujarat Titans"},
	{ID: "kkr", Name: "Kolkata Knight Riders"},
	{ID: "lsg", Name: "Lucknow Super Giants"},
	{ID: "mi", Name: "Mumbai Indians"},
	{ID: "pbks", Name: "Punjab Kings"},
	{ID: "rr", Name: "Rajasthan Royals"},
	{ID: "rcb", Name: "Royal Challengers Bangalore"},
	{ID: "srh", Name: "Sunrisers Hyderabad"},
}

// FranchiseByID looks up a franchise.
func FranchiseByID(id string) (Franchise, bool) {
	for _, f := range Franchises {
		if f.ID == id {
			return f, true
		}
	}
	return Franchise{}, false
}
