package engine

import "sort"

type DiseaseInfo struct {
	Description string   `json:"description"`
	Treatment   string   `json:"treatment"`
	Medicines   []string `json:"medicines"`
	SeverityLow string   `json:"severity_low"`
}

var diseases = map[string]DiseaseInfo{
	"Aphid": {
		Description: "Aphids are small insects that suck sap from crops, causing yellowing and distortion of leaves.",
		SeverityLow: "Mild infestation with minimal crop damage",
		Treatment:   "Use insecticidal soap or neem oil; introduce natural predators like ladybugs",
		Medicines:   []string{"Imidacloprid 17.8% SL", "Neem Oil 3% EC", "Pyrethrins 3.2%"},
	},
	"Black Rust": {
		Description: "Black rust is a fungal disease characterized by dark brown to black pustules on plant surfaces.",
		SeverityLow: "Early stage infection with limited spread",
		Treatment:   "Apply fungicide containing azoxystrobin or propiconazole; remove infected plant parts",
		Medicines:   []string{"Azoxystrobin 23% SC", "Propiconazole 25% EC", "Mancozeb 75% WP"},
	},
	"Blast": {
		Description: "Blast disease is a fungal infection causing severe damage to grains and cereals.",
		SeverityLow: "Early lesion formation with manageable spread",
		Treatment:   "Apply triazole fungicides; ensure proper field drainage",
		Medicines:   []string{"Tebuconazole 250 EC", "Azoxystrobin 23% SC", "Carbendazim 50% WP"},
	},
	"Brown Rust": {
		Description: "Brown rust causes orange-brown pustules on leaves, reducing photosynthesis.",
		SeverityLow: "Initial pustule development stage",
		Treatment:   "Apply propiconazole-based fungicides; improve air circulation",
		Medicines:   []string{"Propiconazole 25% EC", "Tebuconazole 250 EC", "Hexaconazole 5% SC"},
	},
	"Common Root Rot": {
		Description: "Root rot disease affects the root system, causing wilting and stunted growth.",
		SeverityLow: "Localized root infection",
		Treatment:   "Improve soil drainage; use disease-resistant varieties; rotate crops",
		Medicines:   []string{"Carbendazim 50% WP", "Metalaxyl 8% + Mancozeb 64% WS", "Trichoderma 1% WP"},
	},
	"Fusarium Head Blight": {
		Description: "Fusarium head blight causes premature ripening and grain damage in cereals.",
		SeverityLow: "Early infection stage with limited grain damage",
		Treatment:   "Apply carbendazim or tebuconazole at heading stage; use resistant varieties",
		Medicines:   []string{"Carbendazim 50% WP", "Tebuconazole 250 EC", "Prochloraz 45% EC"},
	},
	"Healthy": {
		Description: "No disease detected. The plant appears healthy and disease-free.",
		SeverityLow: "Excellent crop condition",
		Treatment:   "Continue regular monitoring and crop management practices",
		Medicines:   []string{"No medicine required"},
	},
	"Leaf Blight": {
		Description: "Leaf blight causes brown lesions with concentric rings on leaves.",
		SeverityLow: "Small lesions on lower leaves",
		Treatment:   "Prune affected leaves; apply copper-based fungicides",
		Medicines:   []string{"Copper Oxychloride 50% WP", "Mancozeb 75% WP", "Chlorothalonil 75% WP"},
	},
	"Mildew": {
		Description: "Powdery mildew creates white powder-like coating on leaves.",
		SeverityLow: "Early white powder formation",
		Treatment:   "Apply sulfur dust or potassium bicarbonate; improve ventilation",
		Medicines:   []string{"Sulfur 80% WDG", "Potassium Bicarbonate 85%", "Triadimefon 25% WP"},
	},
	"Mite": {
		Description: "Mites are tiny arachnids causing yellowing and fine webbing on plants.",
		SeverityLow: "Low population density",
		Treatment:   "Use miticides; spray with water to remove webs; release predatory mites",
		Medicines:   []string{"Spiromesifen 22.9% SC", "Diafenthiuron 50% WP", "Abamectin 1.9% EC"},
	},
	"Septoria": {
		Description: "Septoria causes small brown spots with gray centers on leaves.",
		SeverityLow: "Initial spot formation on older leaves",
		Treatment:   "Remove infected leaves; apply chlorothalonil fungicide",
		Medicines:   []string{"Chlorothalonil 75% WP", "Mancozeb 75% WP", "Azoxystrobin 23% SC"},
	},
	"Smut": {
		Description: "Smut produces black, sooty masses of spores in flowers and grains.",
		SeverityLow: "Early smut ball development",
		Treatment:   "Use resistant varieties; seed treatment with fungicides",
		Medicines:   []string{"Carboxin 75% WP", "Trichoderma 1% WP", "Seed treatment fungicides"},
	},
	"Stem Fly": {
		Description: "Stem fly larvae tunnel inside stems causing wilting and weakening.",
		SeverityLow: "Early larval tunneling stage",
		Treatment:   "Use insecticides; maintain field hygiene",
		Medicines:   []string{"Cartap 50% SP", "Monocrotophos 36% SL", "Endosulfan 35% EC"},
	},
	"Yellow Rust": {
		Description: "Yellow rust causes yellow stripes and powder on leaves.",
		SeverityLow: "Early pustule formation",
		Treatment:   "Apply propiconazole or tebuconazole fungicides",
		Medicines:   []string{"Propiconazole 25% EC", "Tebuconazole 250 EC", "Azoxystrobin 23% SC"},
	},
}

// LookupDisease returns the agronomic notes for a class name.
func LookupDisease(name string) (DiseaseInfo, bool) {
	info, ok := diseases[name]
	return info, ok
}

// DiseaseNames returns every known class, sorted.
func DiseaseNames() []string {
	names := make([]string, 0, len(diseases))
	for n := range diseases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
