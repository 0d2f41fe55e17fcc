package service

import (
	"testing"

	"certdeploy/system/deploy/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func autoPolicy() model.DeploymentPolicy {
	return model.DeploymentPolicy{
		DeploymentSiteOption:        model.DeploymentSiteAuto,
		DeploymentBindingOption:     model.DeploymentBindingAddOrUpdate,
		BindingMatchHostname:        true,
		PerformAutomatedCertBinding: true,
	}
}

func httpBinding(site, host string) model.BindingInfo {
	return model.BindingInfo{SiteID: site, SiteName: "Site" + site, Host: host, Protocol: "http", Port: 80, IPAddress: "*"}
}

func httpsBinding(site, host string, port int) model.BindingInfo {
	return model.BindingInfo{SiteID: site, SiteName: "Site" + site, Host: host, Protocol: "https", Port: port, IPAddress: "*", IsSNIEnabled: host != ""}
}

func descriptions(changes []model.PlannedBinding) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Description)
	}
	return out
}

// TestResolveExactMatch 字面匹配：嵌套子域名不受影响，空主机名按策略新增
func TestResolveExactMatch(t *testing.T) {
	r := NewBindingResolver()
	bindings := []model.BindingInfo{
		httpBinding("1", "test.example.com"),
		httpBinding("1", "label1.test.example.com"),
		httpBinding("1", "nested.label.test.example.com"),
		httpBinding("1", ""),
	}
	domains := model.DomainSet{
		PrimaryDomain:           "test.example.com",
		SubjectAlternativeNames: []string{"test.example.com", "label1.test.example.com"},
	}

	t.Run("不启用空主机名", func(t *testing.T) {
		plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: autoPolicy(), Bindings: bindings})
		assert.Equal(t, []string{
			"Add https binding | Site1 | ***:443:label1.test.example.com SNI**",
			"Add https binding | Site1 | ***:443:test.example.com SNI**",
		}, descriptions(plan.Changes))
		assert.Len(t, plan.ToAdd(), 2)
		assert.Empty(t, plan.ToUpdate())
		assert.Len(t, plan.Unchanged, 2)
	})

	t.Run("启用空主机名", func(t *testing.T) {
		policy := autoPolicy()
		policy.BindingBlankHostname = true
		plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: policy, Bindings: bindings})
		assert.Equal(t, []string{
			"Add https binding | Site1 | ***:443: Non-SNI**",
			"Add https binding | Site1 | ***:443:label1.test.example.com SNI**",
			"Add https binding | Site1 | ***:443:test.example.com SNI**",
		}, descriptions(plan.Changes))
		for _, c := range plan.Changes {
			assert.NotEqual(t, "nested.label.test.example.com", c.Binding.Host)
		}
	})
}

// TestResolveWildcardIsLiteral 通配符 SAN 只按字面匹配
func TestResolveWildcardIsLiteral(t *testing.T) {
	r := NewBindingResolver()
	bindings := []model.BindingInfo{
		httpsBinding("6", "*.wildtest.com", 9000),
		httpsBinding("6", "wildtest.com", 9001),
		httpsBinding("6", "sub.wildtest.com", 9001),
		httpsBinding("6", "subsub.sub.wildtest.com", 9001),
	}
	plan := r.Resolve(ResolveInput{
		DomainSet: model.DomainSet{PrimaryDomain: "*.wildtest.com", SubjectAlternativeNames: []string{"wildtest.com"}},
		Policy:    autoPolicy(),
		Bindings:  bindings,
	})

	assert.Equal(t, []string{
		"Update https binding | Site6 | ***:9000:*.wildtest.com SNI**",
		"Update https binding | Site6 | ***:9001:wildtest.com SNI**",
	}, descriptions(plan.Changes))
	assert.Len(t, plan.Unchanged, 2)
}

// TestResolveSiteScope SingleSite 与 Auto 的站点范围
func TestResolveSiteScope(t *testing.T) {
	r := NewBindingResolver()
	sites := []model.TargetSite{{ID: "1", Name: "TestDotCom"}, {ID: "1.1", Name: "Ignore"}, {ID: "2", Name: "Other"}}
	bindings := []model.BindingInfo{
		httpsBinding("1", "test.com", 443),
		httpsBinding("1", "www.test.com", 443),
		httpsBinding("1.1", "ignore.test.com", 443),
		httpBinding("2", "test.com"),
	}
	domains := model.DomainSet{PrimaryDomain: "test.com"}

	tests := []struct {
		name    string
		option  model.DeploymentSiteOption
		groupID string
		want    []string
	}{
		{
			name:    "单站点 - 站点不存在",
			option:  model.DeploymentSiteSingle,
			groupID: "ShouldNotMatch",
			want:    []string{},
		},
		{
			name:    "单站点 - 同域不同子域名",
			option:  model.DeploymentSiteSingle,
			groupID: "1.1",
			want:    []string{},
		},
		{
			name:    "单站点 - 匹配一个绑定",
			option:  model.DeploymentSiteSingle,
			groupID: "1",
			want:    []string{"Update https binding | TestDotCom | ***:443:test.com SNI**"},
		},
		{
			name:    "自动 - 两个站点都部署",
			option:  model.DeploymentSiteAuto,
			groupID: "1",
			want: []string{
				"Update https binding | TestDotCom | ***:443:test.com SNI**",
				"Add https binding | Other | ***:443:test.com SNI**",
			},
		},
		{
			name:   "不部署",
			option: model.DeploymentSiteNone,
			want:   []string{},
		},
		{
			name:   "只存储",
			option: model.DeploymentSiteStoreOnly,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := autoPolicy()
			policy.DeploymentSiteOption = tt.option
			plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: policy, GroupID: tt.groupID, Sites: sites, Bindings: bindings})
			assert.Equal(t, tt.want, descriptions(plan.Changes))
		})
	}
}

// TestResolvePolicyOptions 各策略开关
func TestResolvePolicyOptions(t *testing.T) {
	r := NewBindingResolver()
	domains := model.DomainSet{PrimaryDomain: "altport.com", SubjectAlternativeNames: []string{"new.altport.com"}}

	t.Run("多端口更新保留原端口", func(t *testing.T) {
		plan := r.Resolve(ResolveInput{
			DomainSet: domains,
			Policy:    autoPolicy(),
			Bindings:  []model.BindingInfo{httpsBinding("5", "altport.com", 9001), httpsBinding("5", "altport.com", 9000)},
		})
		assert.Equal(t, []string{
			"Update https binding | Site5 | ***:9000:altport.com SNI**",
			"Update https binding | Site5 | ***:9001:altport.com SNI**",
		}, descriptions(plan.Changes))
	})

	t.Run("仅更新不新增", func(t *testing.T) {
		policy := autoPolicy()
		policy.DeploymentBindingOption = model.DeploymentBindingUpdateOnly
		plan := r.Resolve(ResolveInput{
			DomainSet: domains,
			Policy:    policy,
			Bindings:  []model.BindingInfo{httpsBinding("5", "altport.com", 443), httpBinding("5", "new.altport.com")},
		})
		assert.Len(t, plan.ToUpdate(), 1)
		assert.Empty(t, plan.ToAdd())
	})

	t.Run("不匹配主机名时不新增", func(t *testing.T) {
		policy := autoPolicy()
		policy.BindingMatchHostname = false
		plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: policy, Bindings: []model.BindingInfo{httpBinding("5", "altport.com")}})
		assert.True(t, plan.IsEmpty())
	})

	t.Run("手动指定 IP 端口与 SNI", func(t *testing.T) {
		policy := autoPolicy()
		policy.PerformAutomatedCertBinding = false
		policy.BindingIPAddress = "10.0.0.5"
		policy.BindingPort = 8443
		policy.UseSNI = boolPtr(false)
		plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: policy, Bindings: []model.BindingInfo{httpBinding("5", "altport.com")}})
		require.Len(t, plan.Changes, 1)
		assert.Equal(t, "Add https binding | Site5 | **10.0.0.5:8443:altport.com Non-SNI**", plan.Changes[0].Description)
	})

	t.Run("自动绑定忽略手动参数", func(t *testing.T) {
		policy := autoPolicy()
		policy.BindingPort = 8443
		plan := r.Resolve(ResolveInput{DomainSet: domains, Policy: policy, Bindings: []model.BindingInfo{httpBinding("5", "altport.com")}})
		require.Len(t, plan.Changes, 1)
		assert.Equal(t, 443, plan.Changes[0].Binding.Port)
	})

	t.Run("国际化域名", func(t *testing.T) {
		plan := r.Resolve(ResolveInput{
			DomainSet: model.DomainSet{PrimaryDomain: "例子.测试"},
			Policy:    autoPolicy(),
			Bindings:  []model.BindingInfo{httpBinding("9", "xn--fsqu00a.xn--0zwm56d")},
		})
		require.Len(t, plan.Changes, 1)
		assert.Equal(t, "例子.测试", plan.Changes[0].Binding.Host)
	})

	t.Run("证书标识写入计划", func(t *testing.T) {
		plan := r.Resolve(ResolveInput{
			DomainSet: domains,
			Policy:    autoPolicy(),
			Identity:  model.CertificateIdentity{Thumbprint: "ABC", Store: "MY"},
			Bindings:  []model.BindingInfo{httpsBinding("5", "altport.com", 443)},
		})
		require.Len(t, plan.Changes, 1)
		assert.Equal(t, "ABC", plan.Changes[0].Binding.CertificateThumbprint)
		assert.Equal(t, "MY", plan.Changes[0].Binding.CertificateStore)
	})
}

// TestResolveReplacePrevious 按旧证书指纹替换
func TestResolveReplacePrevious(t *testing.T) {
	r := NewBindingResolver()
	old := httpsBinding("3", "legacy.example.org", 443)
	old.CertificateThumbprint = "OLDHASH"
	other := httpsBinding("3", "other.example.org", 443)
	other.CertificateThumbprint = "SOMEHASH"

	policy := autoPolicy()
	policy.BindingReplacePrevious = true
	plan := r.Resolve(ResolveInput{
		DomainSet:          model.DomainSet{PrimaryDomain: "new.example.org"},
		Policy:             policy,
		PreviousThumbprint: "oldhash",
		Bindings:           []model.BindingInfo{old, other},
	})
	assert.Equal(t, []string{"Update https binding | Site3 | ***:443:legacy.example.org SNI**"}, descriptions(plan.Changes))

	policy.BindingReplacePrevious = false
	plan = r.Resolve(ResolveInput{DomainSet: model.DomainSet{PrimaryDomain: "new.example.org"}, Policy: policy, PreviousThumbprint: "OLDHASH", Bindings: []model.BindingInfo{old}})
	assert.True(t, plan.IsEmpty())
}

// TestResolveDeterministicAndConservative 重复解析结果一致，且不触碰集合外的主机
func TestResolveDeterministicAndConservative(t *testing.T) {
	r := NewBindingResolver()
	bindings := []model.BindingInfo{
		httpBinding("2", "www.b.com"),
		httpsBinding("1", "a.com", 443),
		httpBinding("1", "a.com"),
		httpBinding("1", "x.a.com"),
		httpsBinding("2", "", 443),
		{SiteID: "2", SiteName: "Site2", Host: "ftp.a.com", Protocol: "ftp", Port: 21},
		httpBinding("3", "b.com"),
		httpBinding("3", "b.com"),
	}
	domains := model.DomainSet{PrimaryDomain: "a.com", SubjectAlternativeNames: []string{"b.com", "*.a.com", "ftp.a.com"}}
	matchSet := BuildMatchSet(domains)

	for _, blank := range []bool{true, false} {
		policy := autoPolicy()
		policy.DeploymentSiteOption = model.DeploymentSiteAll
		policy.BindingBlankHostname = blank
		in := ResolveInput{DomainSet: domains, Policy: policy, Bindings: bindings}

		first := r.Resolve(in)
		second := r.Resolve(in)
		assert.Equal(t, first, second)

		keys := make(map[string]struct{})
		for _, c := range first.Changes {
			_, member := matchSet[c.Binding.Host]
			assert.True(t, c.Binding.Host == "" || member, c.Description)
			assert.Equal(t, "https", c.Binding.Protocol)
			_, dup := keys[c.Binding.Key()]
			assert.False(t, dup, "重复的绑定 %s", c.Binding.Key())
			keys[c.Binding.Key()] = struct{}{}
		}
	}
}

// TestHasExistingBinding 判断绑定是否已存在
func TestHasExistingBinding(t *testing.T) {
	bindings := []model.BindingInfo{
		{Host: "test.com", IPAddress: "0.0.0.0", Port: 443, Protocol: "https"},
		{Host: "www.test.com", IPAddress: "*", Port: 80, Protocol: "http"},
		{Host: "UPPERCASE.TEST.COM", IPAddress: "*", Port: 80, Protocol: "http"},
		{Host: "dev.test.com", IPAddress: "192.168.1.1", Port: 80, Protocol: "http"},
		{Host: "ftp.test.com", IPAddress: "*", Port: 20, Protocol: "ftp"},
		{Host: "", IPAddress: "192.168.1.1", Port: 443, Protocol: "https"},
		{Host: "", IPAddress: "*", Port: 443, Protocol: "https"},
	}

	tests := []struct {
		name      string
		candidate model.BindingInfo
		want      bool
	}{
		{"未指定 IP 等价", model.BindingInfo{Host: "test.com", IPAddress: "*", Port: 443, Protocol: "https"}, true},
		{"协议不同", model.BindingInfo{Host: "www.test.com", IPAddress: "*", Port: 443, Protocol: "https"}, false},
		{"http 绑定存在", model.BindingInfo{Host: "www.test.com", IPAddress: "*", Port: 80, Protocol: "http"}, true},
		{"大写主机名", model.BindingInfo{Host: "UPPERCASE.TEST.COM", IPAddress: "*", Port: 80, Protocol: "http"}, true},
		{"端口不同", model.BindingInfo{Host: "dev.test.com", IPAddress: "192.168.1.1", Port: 443, Protocol: "https"}, false},
		{"指定 IP 相同", model.BindingInfo{Host: "dev.test.com", IPAddress: "192.168.1.1", Port: 80, Protocol: "http"}, true},
		{"其他协议", model.BindingInfo{Host: "ftp.test.com", IPAddress: "*", Port: 20, Protocol: "ftp"}, true},
		{"空主机名", model.BindingInfo{Host: "", IPAddress: "0.0.0.0", Port: 443, Protocol: "https"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasExistingBinding(bindings, tt.candidate))
		})
	}
}
