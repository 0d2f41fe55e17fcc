package service

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/util"
	"certdeploy/pkg/server/credential"
	"certdeploy/system/deploy/internal/model"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/dns/alidns"
	"github.com/go-acme/lego/v4/providers/dns/tencentcloud"
	"github.com/go-acme/lego/v4/registration"
)

const (
	// DefaultACMEServer Let's Encrypt 生产环境
	DefaultACMEServer = lego.LEDirectoryProduction
	// StagingACMEServer Let's Encrypt 测试环境
	StagingACMEServer = lego.LEDirectoryStaging

	DnsProviderAliDNS       = "alidns"
	DnsProviderTencentCloud = "tencentcloud"
	DnsProviderDNSPod       = "dnspod"
)

// AcmeConfig ACME 账户与验证参数
type AcmeConfig struct {
	DirectoryURL   string
	Email          string
	AccountKeyPath string // 账户私钥文件，不存在时生成
	DNSTimeout     time.Duration
	Nameservers    []string
}

// AcquiredCertificate 新签发的证书
type AcquiredCertificate struct {
	FullchainPEM  []byte
	PrivateKeyPEM []byte
	CertURL       string
	Thumbprint    string
	NotBefore     time.Time
	NotAfter      time.Time
}

// AcmeService 封装 lego 调用，按托管证书的验证配置申请证书
type AcmeService struct {
	log         *logger.Log
	err         *errorc.ErrorBuilder
	cfg         AcmeConfig
	credentials CredentialResolver
	http01      *HTTP01Provider

	mu   sync.Mutex
	user *AcmeUser
}

func NewAcmeService(log *logger.Log, cfg AcmeConfig, credentials CredentialResolver, http01 *HTTP01Provider) *AcmeService {
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultACMEServer
	}
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 120 * time.Second
	}
	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return &AcmeService{
		log:         log.WithEntryName("AcmeService"),
		err:         errorc.NewErrorBuilder("AcmeService"),
		cfg:         cfg,
		credentials: credentials,
		http01:      http01,
	}
}

// AcmeUser 实现 lego.User 接口
type AcmeUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *AcmeUser) GetEmail() string {
	return u.Email
}

func (u *AcmeUser) GetRegistration() *registration.Resource {
	return u.Registration
}

func (u *AcmeUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// Acquire 申请证书。lego 不支持取消，ctx 结束时立即返回，后台请求自行结束
func (s *AcmeService) Acquire(ctx context.Context, mc *model.ManagedCertificate) (*AcquiredCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.err.New("申请已取消", err).Acquisition()
	}

	domains := mc.DomainSet.Names()
	if len(domains) == 0 {
		return nil, s.err.New("证书未配置任何域名", nil).Validation()
	}
	log := s.log.WithTrace(ctx).WithCertificate(mc.ID, mc.Name)
	log.WithFields(map[string]interface{}{
		"domains":   domains,
		"challenge": mc.Challenge.Type,
		"provider":  mc.Challenge.Provider,
	}).Info("开始申请证书")

	// 1. 账户
	user, err := s.loadUser(mc.Challenge.Email)
	if err != nil {
		return nil, s.err.New("加载 ACME 账户失败", err).Acquisition()
	}

	// 2. 客户端
	config := lego.NewConfig(user)
	config.CADirURL = s.cfg.DirectoryURL
	config.Certificate.KeyType = keyType(mc.Challenge.KeyType)
	client, err := lego.NewClient(config)
	if err != nil {
		return nil, s.err.New("创建 ACME 客户端失败", err).Acquisition()
	}

	// 3. 验证方式
	if err := s.setupChallenge(ctx, client, mc.Challenge); err != nil {
		return nil, err
	}

	// 4. 注册账户
	if err := s.register(client, user); err != nil {
		return nil, s.err.New("注册 ACME 账户失败", err).Acquisition()
	}

	// 5. 申请
	type obtained struct {
		res *certificate.Resource
		err error
	}
	done := make(chan obtained, 1)
	go func() {
		res, err := client.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
		done <- obtained{res, err}
	}()

	var res *certificate.Resource
	select {
	case o := <-done:
		if o.err != nil {
			return nil, s.err.New("申请证书失败", o.err).Acquisition()
		}
		res = o.res
	case <-ctx.Done():
		return nil, s.err.New("申请证书超时或被取消", ctx.Err()).Acquisition()
	}

	// 6. 解析
	cert, err := util.ParseCertificatePEM(res.Certificate)
	if err != nil {
		return nil, s.err.New("解析签发的证书失败", err).Acquisition()
	}
	log.WithField("cert_url", res.CertURL).WithField("not_after", cert.NotAfter).Info("证书申请成功")

	return &AcquiredCertificate{
		FullchainPEM:  res.Certificate,
		PrivateKeyPEM: res.PrivateKey,
		CertURL:       res.CertURL,
		Thumbprint:    util.Thumbprint(cert),
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
	}, nil
}

func (s *AcmeService) setupChallenge(ctx context.Context, client *lego.Client, cfg model.ChallengeConfig) error {
	switch cfg.Type {
	case model.ChallengeHTTP01:
		if s.http01 == nil {
			return s.err.New("未启用 HTTP-01 验证", nil).Validation()
		}
		if err := client.Challenge.SetHTTP01Provider(s.http01); err != nil {
			return s.err.New("设置 HTTP-01 Provider 失败", err).Acquisition()
		}
		return nil
	case model.ChallengeDNS01, "":
		if s.credentials == nil {
			return s.err.New("未配置凭据存储", nil).NotFound()
		}
		secrets, err := s.credentials.Resolve(ctx, cfg.CredentialKey)
		if err != nil {
			return s.err.New("解析 DNS 凭据失败: "+cfg.CredentialKey, err).Acquisition()
		}
		dnsProvider, err := s.createDNSProvider(cfg.Provider, secrets)
		if err != nil {
			return s.err.New("创建 DNS Provider 失败", err).Acquisition()
		}
		err = client.Challenge.SetDNS01Provider(dnsProvider,
			dns01.AddDNSTimeout(s.cfg.DNSTimeout),
			dns01.AddRecursiveNameservers(s.cfg.Nameservers),
		)
		if err != nil {
			return s.err.New("设置 DNS-01 Provider 失败", err).Acquisition()
		}
		return nil
	default:
		return s.err.New(fmt.Sprintf("不支持的验证方式: %s", cfg.Type), nil).Validation()
	}
}

// createDNSProvider DNSPod 映射到 TencentCloud
func (s *AcmeService) createDNSProvider(provider string, secrets map[string]string) (challenge.Provider, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == DnsProviderDNSPod {
		provider = DnsProviderTencentCloud
	}
	accessKey := secrets[credential.SecretAccessKeyID]
	secretKey := secrets[credential.SecretAccessKeySecret]

	switch provider {
	case DnsProviderAliDNS:
		config := alidns.NewDefaultConfig()
		config.APIKey = accessKey
		config.SecretKey = secretKey
		return alidns.NewDNSProviderConfig(config)
	case DnsProviderTencentCloud:
		config := tencentcloud.NewDefaultConfig()
		config.SecretID = accessKey
		config.SecretKey = secretKey
		return tencentcloud.NewDNSProviderConfig(config)
	default:
		return nil, fmt.Errorf("不支持的 DNS Provider: %s", provider)
	}
}

func (s *AcmeService) register(client *lego.Client, user *AcmeUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.Registration != nil {
		return nil
	}
	if reg, err := client.Registration.ResolveAccountByKey(); err == nil {
		user.Registration = reg
		return nil
	}
	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return err
	}
	user.Registration = reg
	s.log.WithField("account_url", reg.URI).Info("ACME 账户注册成功")
	return nil
}

// loadUser 同一进程内复用账户，私钥持久化到 AccountKeyPath
func (s *AcmeService) loadUser(email string) (*AcmeUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if email == "" {
		email = s.cfg.Email
	}
	if s.user != nil && s.user.Email == email {
		return s.user, nil
	}

	key, err := s.loadAccountKey()
	if err != nil {
		return nil, err
	}
	s.user = &AcmeUser{Email: email, key: key}
	return s.user, nil
}

func (s *AcmeService) loadAccountKey() (crypto.PrivateKey, error) {
	if s.cfg.AccountKeyPath != "" {
		if data, err := os.ReadFile(s.cfg.AccountKeyPath); err == nil {
			return decodePrivateKey(data)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取账户私钥失败: %w", err)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("生成账户私钥失败: %w", err)
	}
	if s.cfg.AccountKeyPath == "" {
		return key, nil
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.AccountKeyPath), 0700); err != nil {
		return nil, err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(s.cfg.AccountKeyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("保存账户私钥失败: %w", err)
	}
	return key, nil
}

func decodePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("无法解析 PEM 格式私钥")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("不支持的私钥类型: %s", block.Type)
	}
}

func keyType(v string) certcrypto.KeyType {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "EC384", "P384":
		return certcrypto.EC384
	case "RSA2048", "2048":
		return certcrypto.RSA2048
	case "RSA3072", "3072":
		return certcrypto.RSA3072
	case "RSA4096", "4096":
		return certcrypto.RSA4096
	default:
		return certcrypto.EC256
	}
}

// HTTP01Provider 内存中的 HTTP-01 响应表，由 /.well-known/acme-challenge/:token 路由读取
type HTTP01Provider struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewHTTP01Provider() *HTTP01Provider {
	return &HTTP01Provider{tokens: make(map[string]string)}
}

func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = keyAuth
	return nil
}

func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
	return nil
}

// KeyAuth 查询 token 对应的响应内容
func (p *HTTP01Provider) KeyAuth(token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.tokens[token]
	return v, ok
}
