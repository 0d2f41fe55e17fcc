package service

import (
	"fmt"
	"sort"
	"strings"

	"certdeploy/system/deploy/internal/model"

	"golang.org/x/net/idna"
)

const defaultHTTPSPort = 443

// ResolveInput 一次绑定解析所需的全部输入
type ResolveInput struct {
	DomainSet          model.DomainSet
	Policy             model.DeploymentPolicy
	GroupID            string // SingleSite 时选定的站点
	PreviousThumbprint string
	Identity           model.CertificateIdentity
	Sites              []model.TargetSite
	Bindings           []model.BindingInfo
}

// BindingResolver 根据证书域名与部署策略计算绑定变更，不做任何 I/O
type BindingResolver struct{}

func NewBindingResolver() *BindingResolver {
	return &BindingResolver{}
}

// Resolve 计算绑定计划
func (r *BindingResolver) Resolve(in ResolveInput) model.BindingPlan {
	plan := model.BindingPlan{Changes: []model.PlannedBinding{}, Unchanged: []model.BindingInfo{}}

	policy := in.Policy
	if policy.DeploymentSiteOption == model.DeploymentSiteNone || policy.DeploymentSiteOption == model.DeploymentSiteStoreOnly {
		return plan
	}

	matchSet := BuildMatchSet(in.DomainSet)
	bySite := groupBySite(in.Bindings)
	seen := make(map[string]struct{})

	for _, site := range r.scopeSites(in, bySite) {
		for _, b := range candidateBindings(bySite[site.ID]) {
			if !r.shouldDeploy(b, policy, matchSet, in.PreviousThumbprint) {
				plan.Unchanged = append(plan.Unchanged, b)
				continue
			}

			change := r.planChange(site, b, policy, in.Identity)
			key := change.Binding.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			plan.Changes = append(plan.Changes, change)
		}
	}
	return plan
}

// shouldDeploy 单个绑定是否需要新证书
func (r *BindingResolver) shouldDeploy(b model.BindingInfo, policy model.DeploymentPolicy, matchSet map[string]struct{}, previousThumbprint string) bool {
	protocol := strings.ToLower(b.Protocol)
	if protocol != model.ProtocolHTTP && protocol != model.ProtocolHTTPS {
		return false
	}
	if policy.DeploymentBindingOption == model.DeploymentBindingUpdateOnly && protocol != model.ProtocolHTTPS {
		return false
	}

	if policy.BindingReplacePrevious && protocol == model.ProtocolHTTPS &&
		previousThumbprint != "" && strings.EqualFold(b.CertificateThumbprint, previousThumbprint) {
		return true
	}

	host := NormalizeHost(b.Host)
	if host == "" {
		return policy.BindingBlankHostname
	}
	if !policy.BindingMatchHostname {
		return false
	}
	_, ok := matchSet[host]
	return ok
}

// planChange http 绑定生成新的 https 绑定，https 绑定保留原有端点只替换证书
func (r *BindingResolver) planChange(site model.TargetSite, b model.BindingInfo, policy model.DeploymentPolicy, identity model.CertificateIdentity) model.PlannedBinding {
	host := NormalizeHost(b.Host)

	if strings.EqualFold(b.Protocol, model.ProtocolHTTPS) {
		desired := b
		desired.SiteID = site.ID
		desired.SiteName = site.Name
		desired.Host = host
		desired.Protocol = model.ProtocolHTTPS
		desired.CertificateThumbprint = identity.Thumbprint
		desired.CertificateStore = identity.Store
		return model.PlannedBinding{
			Action:      model.BindingActionUpdate,
			Site:        site,
			Binding:     desired,
			Description: DescribeBinding(model.BindingActionUpdate, site.Name, desired),
		}
	}

	ip, port, sni := "*", defaultHTTPSPort, true
	if !policy.PerformAutomatedCertBinding {
		if strings.TrimSpace(policy.BindingIPAddress) != "" {
			ip = strings.TrimSpace(policy.BindingIPAddress)
		}
		if policy.BindingPort > 0 {
			port = policy.BindingPort
		}
		if policy.UseSNI != nil {
			sni = *policy.UseSNI
		}
	}
	if host == "" {
		sni = false
	}

	desired := model.BindingInfo{
		SiteID:                site.ID,
		SiteName:              site.Name,
		Host:                  host,
		Protocol:              model.ProtocolHTTPS,
		Port:                  port,
		IPAddress:             ip,
		IsSNIEnabled:          sni,
		CertificateThumbprint: identity.Thumbprint,
		CertificateStore:      identity.Store,
	}
	return model.PlannedBinding{
		Action:      model.BindingActionAdd,
		Site:        site,
		Binding:     desired,
		Description: DescribeBinding(model.BindingActionAdd, site.Name, desired),
	}
}

// scopeSites SingleSite 只取 GroupID 对应站点，其余取全部站点，保持目标返回的顺序
func (r *BindingResolver) scopeSites(in ResolveInput, bySite map[string][]model.BindingInfo) []model.TargetSite {
	sites := in.Sites
	if len(sites) == 0 {
		sites = sitesFromBindings(in.Bindings)
	}

	if in.Policy.DeploymentSiteOption == model.DeploymentSiteSingle {
		for _, s := range sites {
			if s.ID == in.GroupID {
				return []model.TargetSite{withSiteName(s, bySite[s.ID])}
			}
		}
		return nil
	}

	out := make([]model.TargetSite, 0, len(sites))
	for _, s := range sites {
		out = append(out, withSiteName(s, bySite[s.ID]))
	}
	return out
}

// DescribeBinding 预览与实际执行共用的描述文本
func DescribeBinding(action model.BindingAction, siteName string, b model.BindingInfo) string {
	verb := "Update"
	if action == model.BindingActionAdd {
		verb = "Add"
	}
	sni := "Non-SNI"
	if b.IsSNIEnabled {
		sni = "SNI"
	}
	return fmt.Sprintf("%s https binding | %s | **%s %s**", verb, siteName, b.Spec(), sni)
}

// BindingStepKey 步骤的稳定标识
func BindingStepKey(b model.BindingInfo) string {
	return fmt.Sprintf("[%s]:%s:%t", b.SiteID, b.Spec(), b.IsSNIEnabled)
}

// BuildMatchSet 主域名与 SAN 的字面集合，通配符不展开
func BuildMatchSet(d model.DomainSet) map[string]struct{} {
	set := make(map[string]struct{})
	for _, n := range d.Names() {
		if h := NormalizeHost(n); h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

// NormalizeHost 小写并转为 Unicode 形式，非法的 punycode 原样保留
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if u, err := idna.ToUnicode(host); err == nil {
		return u
	}
	return host
}

// HasExistingBinding 列表中是否已有相同协议与端点的绑定，未指定的 IP 视为相同
func HasExistingBinding(bindings []model.BindingInfo, candidate model.BindingInfo) bool {
	for _, b := range bindings {
		if !strings.EqualFold(b.Protocol, candidate.Protocol) || b.Port != candidate.Port {
			continue
		}
		if !strings.EqualFold(b.Host, candidate.Host) {
			continue
		}
		if (model.IsUnassignedIP(b.IPAddress) && model.IsUnassignedIP(candidate.IPAddress)) || b.IPAddress == candidate.IPAddress {
			return true
		}
	}
	return false
}

// candidateBindings 去掉已有 https 等价绑定的 http 绑定，并按协议、主机、端口、IP 排序
func candidateBindings(bindings []model.BindingInfo) []model.BindingInfo {
	httpsHosts := make(map[string]struct{})
	for _, b := range bindings {
		if strings.EqualFold(b.Protocol, model.ProtocolHTTPS) {
			httpsHosts[NormalizeHost(b.Host)] = struct{}{}
		}
	}

	out := make([]model.BindingInfo, 0, len(bindings))
	for _, b := range bindings {
		if strings.EqualFold(b.Protocol, model.ProtocolHTTP) {
			if _, ok := httpsHosts[NormalizeHost(b.Host)]; ok {
				continue
			}
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := strings.ToLower(a.Protocol), strings.ToLower(b.Protocol); pa != pb {
			return pa < pb
		}
		if ha, hb := NormalizeHost(a.Host), NormalizeHost(b.Host); ha != hb {
			return ha < hb
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		return a.DisplayIP() < b.DisplayIP()
	})
	return out
}

func groupBySite(bindings []model.BindingInfo) map[string][]model.BindingInfo {
	out := make(map[string][]model.BindingInfo)
	for _, b := range bindings {
		out[b.SiteID] = append(out[b.SiteID], b)
	}
	return out
}

func sitesFromBindings(bindings []model.BindingInfo) []model.TargetSite {
	var sites []model.TargetSite
	seen := make(map[string]struct{})
	for _, b := range bindings {
		if _, ok := seen[b.SiteID]; ok {
			continue
		}
		seen[b.SiteID] = struct{}{}
		sites = append(sites, model.TargetSite{ID: b.SiteID, Name: b.SiteName})
	}
	return sites
}

func withSiteName(site model.TargetSite, bindings []model.BindingInfo) model.TargetSite {
	if site.Name == "" && len(bindings) > 0 {
		site.Name = bindings[0].SiteName
	}
	return site
}
