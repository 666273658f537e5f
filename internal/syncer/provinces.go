package syncer

// defaultProvinces is the region sweep used when neither the run config nor
// the service config restricts provinces.
var defaultProvinces = []string{
	"Madrid",
	"Barcelona",
	"Valencia",
	"Sevilla",
	"Zaragoza",
	"Málaga",
	"Alicante",
	"Girona",
	"Tarragona",
	"Huesca",
	"Teruel",
	"Asturias",
	"Cantabria",
	"Navarra",
	"La Rioja",
	"Cáceres",
	"Granada",
	"Almería",
	"León",
	"Lugo",
}

// searchLanguages are the catalog query languages issued per province.
var searchLanguages = []string{"es", "en"}
