package handlers

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/client/pkg/wallet"
)

type ClusterResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Endpoint    string `json:"endpoint"`
	Active      bool   `json:"active"`
}

type SessionResponse struct {
	Cluster          string            `json:"cluster"`
	ClusterURL       string            `json:"clusterUrl"`
	ProgramID        solana.PublicKey  `json:"programId"`
	WalletAddress    *solana.PublicKey `json:"walletAddress,omitempty"`
	ExternalAddress  *solana.PublicKey `json:"externalAddress,omitempty"`
	EffectiveAddress *solana.PublicKey `json:"effectiveAddress,omitempty"`
	IsExternal       bool              `json:"isExternal"`
	WalletConnected  bool              `json:"walletConnected"`
	Connected        bool              `json:"connected"`
}

type AccountResponse struct {
	Address  *solana.PublicKey `json:"address,omitempty"`
	Slot     uint64            `json:"slot"`
	Lamports uint64            `json:"lamports"`
	Balance  string            `json:"balance"`
	Explorer string            `json:"explorerUrl,omitempty"`
}

type SetClusterRequest struct {
	Name string `json:"name"`
}

type SetAddressRequest struct {
	Address string `json:"address"`
}

func sessionResponse(st session.State) SessionResponse {
	return SessionResponse{
		Cluster:          st.ClusterName(),
		ClusterURL:       st.Cluster.Endpoint,
		ProgramID:        program.ProgramID,
		WalletAddress:    st.WalletAddress,
		ExternalAddress:  st.ExternalAddress,
		EffectiveAddress: st.EffectiveAddress,
		IsExternal:       st.IsExternal,
		WalletConnected:  st.WalletConnected,
		Connected:        st.Conn != nil,
	}
}

// GetClusters handles GET /api/clusters.
func (h *Handlers) GetClusters(w http.ResponseWriter, r *http.Request) {
	active := h.cfg.Session.State().ClusterName()
	clusters := h.cfg.Session.Clusters()
	resp := make([]ClusterResponse, 0, len(clusters))
	for _, c := range clusters {
		resp = append(resp, ClusterResponse{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Endpoint:    c.Endpoint,
			Active:      c.Name == active,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutCluster handles PUT /api/cluster. Unknown names select the default cluster.
func (h *Handlers) PutCluster(w http.ResponseWriter, r *http.Request) {
	var req SetClusterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := h.cfg.Session.SetClusterName(req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(h.cfg.Session.State()))
}

// GetSession handles GET /api/session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse(h.cfg.Session.State()))
}

// PutAddress handles PUT /api/session/address.
func (h *Handlers) PutAddress(w http.ResponseWriter, r *http.Request) {
	var req SetAddressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	addr, err := wallet.ParseAddress(req.Address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	h.cfg.Session.SetExternalAddress(&addr)
	writeJSON(w, http.StatusOK, sessionResponse(h.cfg.Session.State()))
}

// DeleteAddress handles DELETE /api/session/address.
func (h *Handlers) DeleteAddress(w http.ResponseWriter, r *http.Request) {
	h.cfg.Session.ResetToWallet()
	writeJSON(w, http.StatusOK, sessionResponse(h.cfg.Session.State()))
}

// GetAccount handles GET /api/account.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	d := h.cfg.Account.Data()
	resp := AccountResponse{
		Address:  d.Address,
		Slot:     d.Slot,
		Lamports: d.Lamports,
		Balance:  d.BalanceString(),
	}
	if d.Address != nil {
		resp.Explorer = h.cfg.Session.State().Cluster.ExplorerURL("account/" + d.Address.String())
	}
	writeJSON(w, http.StatusOK, resp)
}
