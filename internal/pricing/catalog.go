package pricing

// The service catalog: what customers pick from when creating a job.
// Base prices are dollars; bag sizes scale them.

type Volume struct {
	ID          string
	Name        string
	Description string
	BasePrice   float64
}

type Bag struct {
	ID              string
	Name            string
	Description     string
	PriceMultiplier float64
}

var volumeOptions = []Volume{
	{ID: "1-5_bags", Name: "1-5 Bags", Description: "Small household bags", BasePrice: 1},
	{ID: "pickup_load", Name: "Pickup Load", Description: "Half truck bed full", BasePrice: 45},
	{ID: "trailer_load", Name: "Trailer Load", Description: "Full trailer or truck bed", BasePrice: 85},
}

var bagSizes = []Bag{
	{ID: "S", Name: "Small", Description: "Up to 13 gallons", PriceMultiplier: 1.0},
	{ID: "M", Name: "Medium", Description: "13-30 gallons", PriceMultiplier: 1.2},
	{ID: "L", Name: "Large", Description: "30-45 gallons", PriceMultiplier: 1.5},
	{ID: "XL", Name: "Extra Large", Description: "45-60 gallons", PriceMultiplier: 1.8},
	{ID: "XXL", Name: "XX Large", Description: "60+ gallons", PriceMultiplier: 2.0},
}

var wasteTypes = map[string]string{
	"household":    "Household Trash",
	"bulk":         "Bulk Items",
	"yard":         "Yard Waste",
	"construction": "Construction Debris",
	"recyclables":  "Recyclables",
}

func VolumeOption(id string) (Volume, bool) {
	for _, v := range volumeOptions {
		if v.ID == id {
			return v, true
		}
	}
	return Volume{}, false
}

func BagSize(id string) (Bag, bool) {
	for _, b := range bagSizes {
		if b.ID == id {
			return b, true
		}
	}
	return Bag{}, false
}

func ValidWasteType(id string) bool {
	_, ok := wasteTypes[id]
	return ok
}
