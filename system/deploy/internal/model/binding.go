package model

import (
	"fmt"
	"strings"
)

const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// TargetSite 目标服务器上的站点
type TargetSite struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// BindingInfo 目标服务器上的一个网络绑定
type BindingInfo struct {
	SiteID                string `json:"siteId" yaml:"site_id,omitempty"`
	SiteName              string `json:"siteName" yaml:"site_name,omitempty"`
	Host                  string `json:"host" yaml:"host"`
	Protocol              string `json:"protocol" yaml:"protocol"`
	Port                  int    `json:"port" yaml:"port"`
	IPAddress             string `json:"ipAddress" yaml:"ip_address"`
	IsSNIEnabled          bool   `json:"isSNIEnabled" yaml:"sni"`
	CertificateThumbprint string `json:"certificateThumbprint,omitempty" yaml:"certificate_thumbprint"`
	CertificateStore      string `json:"certificateStore,omitempty" yaml:"certificate_store"`
}

// IsUnassignedIP "" / 0.0.0.0 / * 都表示任意地址
func IsUnassignedIP(ip string) bool {
	ip = strings.TrimSpace(ip)
	return ip == "" || ip == "0.0.0.0" || ip == "*"
}

// DisplayIP 描述文本中使用的地址
func (b BindingInfo) DisplayIP() string {
	if IsUnassignedIP(b.IPAddress) {
		return "*"
	}
	return b.IPAddress
}

// Spec ip:port:host
func (b BindingInfo) Spec() string {
	return fmt.Sprintf("%s:%d:%s", b.DisplayIP(), b.Port, b.Host)
}

// Key 绑定的唯一标识 (站点, IP, 端口, 主机)
func (b BindingInfo) Key() string {
	ip := b.IPAddress
	if IsUnassignedIP(ip) {
		ip = "*"
	}
	return fmt.Sprintf("%s|%s|%d|%s", b.SiteID, ip, b.Port, strings.ToLower(b.Host))
}

// SameEndpoint 协议、IP、端口、主机均一致
func (b BindingInfo) SameEndpoint(o BindingInfo) bool {
	return strings.EqualFold(b.Protocol, o.Protocol) && b.Key() == o.Key()
}

// CertificateIdentity 证书导入目标存储后的标识
type CertificateIdentity struct {
	Thumbprint string `json:"thumbprint"`
	Store      string `json:"store"`
}

// BindingAction 计划中的动作
type BindingAction string

const (
	BindingActionAdd    BindingAction = "add"
	BindingActionUpdate BindingAction = "update"
)

// PlannedBinding 计划中的一项变更
type PlannedBinding struct {
	Action      BindingAction `json:"action"`
	Site        TargetSite    `json:"site"`
	Binding     BindingInfo   `json:"binding"`
	Description string        `json:"description"`
}

// BindingPlan 绑定解析结果，Changes 按应用顺序排列
type BindingPlan struct {
	Changes   []PlannedBinding `json:"changes"`
	Unchanged []BindingInfo    `json:"unchanged"`
}

func (p BindingPlan) ToAdd() []PlannedBinding {
	return p.filter(BindingActionAdd)
}

func (p BindingPlan) ToUpdate() []PlannedBinding {
	return p.filter(BindingActionUpdate)
}

func (p BindingPlan) IsEmpty() bool {
	return len(p.Changes) == 0
}

func (p BindingPlan) filter(action BindingAction) []PlannedBinding {
	var out []PlannedBinding
	for _, c := range p.Changes {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}
