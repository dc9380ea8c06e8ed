package request

type StartJobRequest struct {
	City           string `json:"city"`
	Category       string `json:"category"`
	MaxPages       int    `json:"max_pages"`
	DownloadImages bool   `json:"download_images"`
}

type RequestOtpRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type VerifyOtpRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type AddProxyRequest struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // http, https, socks5
	Username string `json:"username"`
	Password string `json:"password"`
}

type SetProxyActiveRequest struct {
	Active bool `json:"active"`
}

// ImportProxiesRequest carries a newline-separated list of proxies in the
// form ip:port or ip:port:user:pass.
type ImportProxiesRequest struct {
	ProxyList string `json:"proxy_list"`
}
